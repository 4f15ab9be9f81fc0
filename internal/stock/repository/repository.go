// Package repository persists medicines, batches and the stock ledger in
// PostgreSQL. Every method runs against either the pool or the transaction
// the Store was opened on, so callers compose units of work with WithTx.
package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-stock/pkg/database"
)

// Repository is the storage port used by the stock services.
type Repository interface {
	// WithTx runs fn inside one transaction. Called on a Repository that is
	// already transactional, fn joins the running transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	CreateMedicine(ctx context.Context, m *Medicine) error
	GetMedicine(ctx context.Context, id int64) (*Medicine, error)

	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id int64) (*Batch, error)
	ListBatches(ctx context.Context, medicineID int64) ([]Batch, error)
	// LockAllocatableBatches locks the medicine's sellable batches in FEFO order.
	LockAllocatableBatches(ctx context.Context, medicineID int64, today time.Time) ([]Batch, error)
	LockBatch(ctx context.Context, id int64) (*Batch, error)
	DecrementBatch(ctx context.Context, id int64, quantity int) error
	SetBatchQuantity(ctx context.Context, id int64, quantity int) error

	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	CountLedger(ctx context.Context, filter LedgerFilter) (int64, error)
	SumLedgerQuantity(ctx context.Context, filter LedgerFilter) (int, error)

	InsertFulfillmentLine(ctx context.Context, l *FulfillmentLine) error
	ListFulfillmentLines(ctx context.Context, requestID int64) ([]FulfillmentLine, error)
	HasFulfillment(ctx context.Context, requestID, medicineID int64) (bool, error)

	InsertAdjustment(ctx context.Context, a *AdjustmentRecord) error
	ListAdjustments(ctx context.Context, medicineID int64) ([]AdjustmentRecord, error)

	StockLevels(ctx context.Context, today time.Time) ([]StockLevel, error)
	StockLevelFor(ctx context.Context, medicineID int64, today time.Time) (*StockLevel, error)
	ExpiringBatches(ctx context.Context, today, until time.Time) ([]ExpiryRow, error)
	ExpiredBatches(ctx context.Context, today time.Time) ([]ExpiryRow, error)
}

// Store implements Repository on top of sqlx
type Store struct {
	db   *database.DB // nil when bound to a transaction
	exec sqlx.ExtContext
}

// NewStore creates a new store backed by the connection pool
func NewStore(db *database.DB) *Store {
	return &Store{db: db, exec: db.DB}
}

// WithTx runs fn in a transaction. Row locks taken inside fn are held until
// it returns; any error rolls the whole unit back.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}

	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &Store{exec: tx})
	})
}

// dateArg renders a calendar date for comparison against DATE columns.
// Passing time.Time would make the driver send a timestamptz and let the
// session time zone shift the day.
func dateArg(t time.Time) string {
	return t.Format("2006-01-02")
}
