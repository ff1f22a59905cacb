package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medgrid/exchange-engine/internal/database"
	"github.com/medgrid/exchange-engine/internal/models"
)

// AuditDAO handles database operations for the append-only audit ledger.
// Rows are never updated or deleted; the primary key on SEQ_NO makes a
// duplicate append fail atomically without a partial row.
type AuditDAO struct {
	db *database.DB
}

// NewAuditDAO creates a new AuditDAO instance
func NewAuditDAO(db *database.DB) *AuditDAO {
	return &AuditDAO{db: db}
}

// Append inserts a ledger record with its pre-assigned sequence number
func (dao *AuditDAO) Append(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO HIE_AUDIT_LEDGER (
			SEQ_NO, ACTOR_ID, SUBJECT_ID, ACTION, DETAIL, ACTION_TIME,
			PAYLOAD_HASH, PREV_HASH
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := dao.db.ExecContext(
		ctx,
		query,
		record.Sequence,
		record.ActorID,
		record.SubjectID,
		record.Action,
		record.Detail,
		record.ActionTime,
		record.PayloadHash,
		record.PrevHash,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// Tail retrieves the record with the highest sequence number, or nil when
// the ledger is empty
func (dao *AuditDAO) Tail(ctx context.Context) (*models.AuditRecord, error) {
	query := `
		SELECT SEQ_NO, ACTOR_ID, SUBJECT_ID, ACTION, DETAIL, ACTION_TIME,
		       PAYLOAD_HASH, PREV_HASH
		FROM HIE_AUDIT_LEDGER
		ORDER BY SEQ_NO DESC
		LIMIT 1
	`

	var record models.AuditRecord
	err := dao.db.GetContext(ctx, &record, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger tail: %w", err)
	}

	return &record, nil
}

// Range retrieves records within the inclusive sequence range, in order
func (dao *AuditDAO) Range(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditRecord, error) {
	query := `
		SELECT SEQ_NO, ACTOR_ID, SUBJECT_ID, ACTION, DETAIL, ACTION_TIME,
		       PAYLOAD_HASH, PREV_HASH
		FROM HIE_AUDIT_LEDGER
		WHERE SEQ_NO BETWEEN ? AND ?
		ORDER BY SEQ_NO ASC
	`

	var records []models.AuditRecord
	err := dao.db.SelectContext(ctx, &records, query, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit range: %w", err)
	}

	return records, nil
}
