package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medgrid/exchange-engine/internal/database"
	"github.com/medgrid/exchange-engine/internal/models"
)

// ArtifactDAO handles database operations for consent artifacts
type ArtifactDAO struct {
	db *database.DB
}

// NewArtifactDAO creates a new ArtifactDAO instance
func NewArtifactDAO(db *database.DB) *ArtifactDAO {
	return &ArtifactDAO{db: db}
}

// Create inserts a new consent artifact
func (dao *ArtifactDAO) Create(ctx context.Context, artifact *models.ConsentArtifact) error {
	query := `
		INSERT INTO HIE_CONSENT_ARTIFACT (
			ARTIFACT_ID, PATIENT_ID, REQUESTER_ID, PROVIDER_ID, CATEGORIES,
			FROM_TIME, TO_TIME, EXPIRY_TIME, CURRENT_STATUS, SCOPE_SIGNATURE,
			CREATED_TIME, UPDATED_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := dao.db.ExecContext(
		ctx,
		query,
		artifact.ArtifactID,
		artifact.PatientID,
		artifact.RequesterID,
		artifact.ProviderID,
		artifact.Categories,
		artifact.FromTime,
		artifact.ToTime,
		artifact.ExpiryTime,
		artifact.Status,
		artifact.ScopeSignature,
		artifact.CreatedTime,
		artifact.UpdatedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	return nil
}

// GetByID retrieves a consent artifact by ID
func (dao *ArtifactDAO) GetByID(ctx context.Context, artifactID string) (*models.ConsentArtifact, error) {
	query := `
		SELECT ARTIFACT_ID, PATIENT_ID, REQUESTER_ID, PROVIDER_ID, CATEGORIES,
		       FROM_TIME, TO_TIME, EXPIRY_TIME, CURRENT_STATUS, SCOPE_SIGNATURE,
		       CREATED_TIME, UPDATED_TIME
		FROM HIE_CONSENT_ARTIFACT
		WHERE ARTIFACT_ID = ?
	`

	var artifact models.ConsentArtifact
	err := dao.db.GetContext(ctx, &artifact, query, artifactID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("artifact not found: %s", artifactID)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	return &artifact, nil
}

// UpdateStatus moves an artifact from the expected status to the next one.
// The WHERE clause carries the expected status so a concurrent transition
// shows up as zero rows affected.
func (dao *ArtifactDAO) UpdateStatus(ctx context.Context, artifactID string, expected, next models.ArtifactStatus, scopeSignature *string, updatedTime int64) (bool, error) {
	query := `
		UPDATE HIE_CONSENT_ARTIFACT
		SET CURRENT_STATUS = ?, SCOPE_SIGNATURE = COALESCE(?, SCOPE_SIGNATURE), UPDATED_TIME = ?
		WHERE ARTIFACT_ID = ? AND CURRENT_STATUS = ?
	`

	result, err := dao.db.ExecContext(ctx, query, next, scopeSignature, updatedTime, artifactID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update artifact status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// ListByPatient retrieves all artifacts for a patient, newest first
func (dao *ArtifactDAO) ListByPatient(ctx context.Context, patientID string) ([]models.ConsentArtifact, error) {
	query := `
		SELECT ARTIFACT_ID, PATIENT_ID, REQUESTER_ID, PROVIDER_ID, CATEGORIES,
		       FROM_TIME, TO_TIME, EXPIRY_TIME, CURRENT_STATUS, SCOPE_SIGNATURE,
		       CREATED_TIME, UPDATED_TIME
		FROM HIE_CONSENT_ARTIFACT
		WHERE PATIENT_ID = ?
		ORDER BY CREATED_TIME DESC
	`

	var artifacts []models.ConsentArtifact
	err := dao.db.SelectContext(ctx, &artifacts, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts by patient: %w", err)
	}

	return artifacts, nil
}

// ListExpirable retrieves GRANTED artifacts whose expiry has passed
func (dao *ArtifactDAO) ListExpirable(ctx context.Context, nowMillis int64) ([]models.ConsentArtifact, error) {
	query := `
		SELECT ARTIFACT_ID, PATIENT_ID, REQUESTER_ID, PROVIDER_ID, CATEGORIES,
		       FROM_TIME, TO_TIME, EXPIRY_TIME, CURRENT_STATUS, SCOPE_SIGNATURE,
		       CREATED_TIME, UPDATED_TIME
		FROM HIE_CONSENT_ARTIFACT
		WHERE CURRENT_STATUS = ? AND EXPIRY_TIME <= ?
	`

	var artifacts []models.ConsentArtifact
	err := dao.db.SelectContext(ctx, &artifacts, query, models.ArtifactStatusGranted, nowMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable artifacts: %w", err)
	}

	return artifacts, nil
}
