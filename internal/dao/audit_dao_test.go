package dao

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/exchange-engine/internal/models"
)

var auditColumns = []string{
	"SEQ_NO", "ACTOR_ID", "SUBJECT_ID", "ACTION", "DETAIL", "ACTION_TIME",
	"PAYLOAD_HASH", "PREV_HASH",
}

func TestAuditDAOAppend(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewAuditDAO(db)

	mock.ExpectExec("INSERT INTO HIE_AUDIT_LEDGER").
		WithArgs(int64(1), "PATIENT-1", "ARTIFACT-1", models.AuditActionConsentGranted, "", int64(100), "hash", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := dao.Append(context.Background(), &models.AuditRecord{
		Sequence:    1,
		ActorID:     "PATIENT-1",
		SubjectID:   "ARTIFACT-1",
		Action:      models.AuditActionConsentGranted,
		ActionTime:  100,
		PayloadHash: "hash",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDAOTailEmptyLedger(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewAuditDAO(db)

	mock.ExpectQuery("SELECT (.+) FROM HIE_AUDIT_LEDGER").
		WillReturnRows(sqlmock.NewRows(auditColumns))

	tail, err := dao.Tail(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDAORange(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewAuditDAO(db)

	mock.ExpectQuery("SELECT (.+) FROM HIE_AUDIT_LEDGER").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(auditColumns).
			AddRow(int64(1), "PATIENT-1", "ARTIFACT-1", "CONSENT_REQUESTED", "", int64(100), "h1", "").
			AddRow(int64(2), "PATIENT-1", "ARTIFACT-1", "CONSENT_GRANTED", "", int64(200), "h2", "h1"))

	records, err := dao.Range(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "h1", records[1].PrevHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
