package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medgrid/exchange-engine/internal/database"
	"github.com/medgrid/exchange-engine/internal/models"
)

// ExchangeDAO handles database operations for data exchange requests
type ExchangeDAO struct {
	db *database.DB
}

// NewExchangeDAO creates a new ExchangeDAO instance
func NewExchangeDAO(db *database.DB) *ExchangeDAO {
	return &ExchangeDAO{db: db}
}

// Create inserts a new data exchange request
func (dao *ExchangeDAO) Create(ctx context.Context, request *models.DataExchangeRequest) error {
	query := `
		INSERT INTO HIE_EXCHANGE_REQUEST (
			REQUEST_ID, ARTIFACT_ID, INITIATOR_ID, TARGET_ID, SUBMITTED_TIME,
			DEADLINE_TIME, ATTEMPTS, CURRENT_STATUS, OUTCOME_HASH,
			FAILURE_REASON, UPDATED_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := dao.db.ExecContext(
		ctx,
		query,
		request.RequestID,
		request.ArtifactID,
		request.InitiatorID,
		request.TargetID,
		request.SubmittedTime,
		request.DeadlineTime,
		request.Attempts,
		request.Status,
		request.OutcomeHash,
		request.FailureReason,
		request.UpdatedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create exchange request: %w", err)
	}

	return nil
}

// GetByID retrieves an exchange request by ID
func (dao *ExchangeDAO) GetByID(ctx context.Context, requestID string) (*models.DataExchangeRequest, error) {
	query := `
		SELECT REQUEST_ID, ARTIFACT_ID, INITIATOR_ID, TARGET_ID, SUBMITTED_TIME,
		       DEADLINE_TIME, ATTEMPTS, CURRENT_STATUS, OUTCOME_HASH,
		       FAILURE_REASON, UPDATED_TIME
		FROM HIE_EXCHANGE_REQUEST
		WHERE REQUEST_ID = ?
	`

	var request models.DataExchangeRequest
	err := dao.db.GetContext(ctx, &request, query, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("exchange request not found: %s", requestID)
		}
		return nil, fmt.Errorf("failed to get exchange request: %w", err)
	}

	return &request, nil
}

// UpdateStatus moves a request from the expected status to the next one,
// recording the outcome. Zero rows affected means the request already
// reached a different status.
func (dao *ExchangeDAO) UpdateStatus(ctx context.Context, requestID string, expected, next models.ExchangeStatus, outcomeHash, failureReason *string, updatedTime int64) (bool, error) {
	query := `
		UPDATE HIE_EXCHANGE_REQUEST
		SET CURRENT_STATUS = ?, OUTCOME_HASH = ?, FAILURE_REASON = ?, UPDATED_TIME = ?
		WHERE REQUEST_ID = ? AND CURRENT_STATUS = ?
	`

	result, err := dao.db.ExecContext(ctx, query, next, outcomeHash, failureReason, updatedTime, requestID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update exchange status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// IncrementAttempts bumps the delivery attempt counter and pushes the
// deadline out for the re-send
func (dao *ExchangeDAO) IncrementAttempts(ctx context.Context, requestID string, deadlineTime, updatedTime int64) error {
	query := `
		UPDATE HIE_EXCHANGE_REQUEST
		SET ATTEMPTS = ATTEMPTS + 1, DEADLINE_TIME = ?, UPDATED_TIME = ?
		WHERE REQUEST_ID = ?
	`

	result, err := dao.db.ExecContext(ctx, query, deadlineTime, updatedTime, requestID)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("exchange request not found: %s", requestID)
	}

	return nil
}

// ListPendingByArtifact retrieves non-terminal requests under an artifact
func (dao *ExchangeDAO) ListPendingByArtifact(ctx context.Context, artifactID string) ([]models.DataExchangeRequest, error) {
	query := `
		SELECT REQUEST_ID, ARTIFACT_ID, INITIATOR_ID, TARGET_ID, SUBMITTED_TIME,
		       DEADLINE_TIME, ATTEMPTS, CURRENT_STATUS, OUTCOME_HASH,
		       FAILURE_REASON, UPDATED_TIME
		FROM HIE_EXCHANGE_REQUEST
		WHERE ARTIFACT_ID = ? AND CURRENT_STATUS = ?
		ORDER BY SUBMITTED_TIME ASC
	`

	var requests []models.DataExchangeRequest
	err := dao.db.SelectContext(ctx, &requests, query, artifactID, models.ExchangeStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending exchange requests: %w", err)
	}

	return requests, nil
}
