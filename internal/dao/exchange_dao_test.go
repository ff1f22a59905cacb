package dao

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/exchange-engine/internal/models"
)

func TestExchangeDAOUpdateStatusCompareAndSet(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewExchangeDAO(db)

	outcomeHash := "abc123"
	mock.ExpectExec("UPDATE HIE_EXCHANGE_REQUEST").
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := dao.UpdateStatus(context.Background(), "EXCHANGE-1",
		models.ExchangeStatusPending, models.ExchangeStatusDelivered, &outcomeHash, nil, 100)
	require.NoError(t, err)
	assert.True(t, updated)

	// Terminal statuses are not revisable; the guarded update matches nothing
	mock.ExpectExec("UPDATE HIE_EXCHANGE_REQUEST").
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err = dao.UpdateStatus(context.Background(), "EXCHANGE-1",
		models.ExchangeStatusPending, models.ExchangeStatusTimedOut, nil, nil, 200)
	require.NoError(t, err)
	assert.False(t, updated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExchangeDAOIncrementAttempts(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewExchangeDAO(db)

	// The retry pushes the deadline out along with the attempt counter
	mock.ExpectExec("UPDATE HIE_EXCHANGE_REQUEST").
		WithArgs(int64(500), int64(100), "EXCHANGE-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, dao.IncrementAttempts(context.Background(), "EXCHANGE-1", 500, 100))

	mock.ExpectExec("UPDATE HIE_EXCHANGE_REQUEST").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Error(t, dao.IncrementAttempts(context.Background(), "EXCHANGE-GHOST", 500, 100))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExchangeDAOGetByID(t *testing.T) {
	db, mock := newMockDB(t)
	dao := NewExchangeDAO(db)

	columns := []string{
		"REQUEST_ID", "ARTIFACT_ID", "INITIATOR_ID", "TARGET_ID", "SUBMITTED_TIME",
		"DEADLINE_TIME", "ATTEMPTS", "CURRENT_STATUS", "OUTCOME_HASH",
		"FAILURE_REASON", "UPDATED_TIME",
	}
	mock.ExpectQuery("SELECT (.+) FROM HIE_EXCHANGE_REQUEST").
		WithArgs("EXCHANGE-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"EXCHANGE-1", "ARTIFACT-1", "HIU-1", "HIP-1", int64(1),
			int64(2), 1, "PENDING", nil,
			nil, int64(1),
		))

	request, err := dao.GetByID(context.Background(), "EXCHANGE-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusPending, request.Status)
	assert.Equal(t, 1, request.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
