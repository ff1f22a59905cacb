package dao

import (
	"context"

	"github.com/medgrid/exchange-engine/internal/models"
)

// ArtifactStore persists consent artifacts. Status updates are
// compare-and-set on the expected current status so a lost race surfaces as
// a zero-row update rather than a silent overwrite.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.ConsentArtifact) error
	GetByID(ctx context.Context, artifactID string) (*models.ConsentArtifact, error)
	// UpdateStatus moves artifactID from expected to next; returns false when
	// the row was not in the expected status. A non-nil scopeSignature is
	// stored with the transition (set once, at grant).
	UpdateStatus(ctx context.Context, artifactID string, expected, next models.ArtifactStatus, scopeSignature *string, updatedTime int64) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.ConsentArtifact, error)
	// ListExpirable returns GRANTED artifacts whose expiry is at or before now (millis)
	ListExpirable(ctx context.Context, nowMillis int64) ([]models.ConsentArtifact, error)
}

// ExchangeStore persists data exchange requests
type ExchangeStore interface {
	Create(ctx context.Context, request *models.DataExchangeRequest) error
	GetByID(ctx context.Context, requestID string) (*models.DataExchangeRequest, error)
	// UpdateStatus moves requestID from expected to next, recording the
	// outcome hash or failure reason; returns false when the row was not in
	// the expected status.
	UpdateStatus(ctx context.Context, requestID string, expected, next models.ExchangeStatus, outcomeHash, failureReason *string, updatedTime int64) (bool, error)
	// IncrementAttempts bumps the attempt counter and extends the deadline
	// for the re-send
	IncrementAttempts(ctx context.Context, requestID string, deadlineTime, updatedTime int64) error
	ListPendingByArtifact(ctx context.Context, artifactID string) ([]models.DataExchangeRequest, error)
}

// AuditStore persists the append-only ledger rows. Only the ledger actor
// writes through this interface; reads are open to anyone.
type AuditStore interface {
	// Append inserts the record with its pre-assigned sequence number. The
	// insert is atomic: on error no partial row is visible.
	Append(ctx context.Context, record *models.AuditRecord) error
	// Tail returns the record with the highest sequence, or nil on an empty ledger
	Tail(ctx context.Context) (*models.AuditRecord, error)
	// Range returns records with fromSeq <= seq <= toSeq in sequence order
	Range(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditRecord, error)
}
