package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/medflow/medflow-stock/pkg/errors"
)

func newMockDB(t *testing.T, lockTimeout time.Duration) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return Wrap(sqlx.NewDb(raw, "postgres"), lockTimeout, nil), mock
}

func TestTransaction_CommitsWithLockTimeout(t *testing.T) {
	db, mock := newMockDB(t, 1500*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '1500ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Transaction(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE batches SET quantity_available = 1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t, 0)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := db.Transaction(context.Background(), func(tx *sqlx.Tx) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_BeginFailure(t *testing.T) {
	db, mock := newMockDB(t, 0)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	called := false
	err := db.Transaction(context.Background(), func(tx *sqlx.Tx) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"lock not available", &pq.Error{Code: "55P03"}, apperrors.ErrConcurrencyConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, apperrors.ErrConcurrencyConflict},
		{"serialization failure", &pq.Error{Code: "40001"}, apperrors.ErrConcurrencyConflict},
		{"deadline exceeded", context.DeadlineExceeded, apperrors.ErrConcurrencyConflict},
		{"negative stock", &pq.Error{Code: "23514", Constraint: "batches_quantity_available_nonnegative"}, apperrors.ErrValidation},
		{"connection reset", errors.New("connection reset by peer"), apperrors.ErrStorageFault},
		{"unknown pq error", &pq.Error{Code: "XX000"}, apperrors.ErrStorageFault},
		{"app error passes through", apperrors.NotFound("batch"), apperrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "allocation failed")
			assert.ErrorIs(t, got, tt.sentinel)
		})
	}

	assert.NoError(t, Classify(nil, "unused"))
}

func TestMapPQError_UniqueBatchCode(t *testing.T) {
	mapped := MapPQError(&pq.Error{Code: "23505", Constraint: "batches_medicine_id_batch_code_key"})
	require.NotNil(t, mapped)
	assert.Equal(t, "CONFLICT", mapped.Code)
	assert.Contains(t, mapped.Message, "batch")

	assert.Nil(t, MapPQError(errors.New("plain")))
}
