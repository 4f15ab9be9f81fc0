package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
)

// Batch is one receipt of a medicine with its own expiry. Batches are never
// deleted; empty and expired ones stay for the audit trail.
type Batch struct {
	ID                int64     `db:"id" json:"id"`
	MedicineID        int64     `db:"medicine_id" json:"medicine_id"`
	BatchCode         string    `db:"batch_code" json:"batch_code"`
	ExpiryDate        time.Time `db:"expiry_date" json:"expiry_date"`
	QuantityAvailable int       `db:"quantity_available" json:"quantity_available"`
	ReceivedQuantity  int       `db:"received_quantity" json:"received_quantity"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Sellable reports whether the batch may be allocated on the given day.
// A batch expiring today is already expired.
func (b *Batch) Sellable(today time.Time) bool {
	return b.QuantityAvailable > 0 && b.ExpiryDate.After(today)
}

const batchColumns = `id, medicine_id, batch_code, expiry_date, quantity_available,
	received_quantity, received_at, created_at, updated_at`

// CreateBatch creates a new batch
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	query := `
		INSERT INTO batches (
			medicine_id, batch_code, expiry_date, quantity_available, received_quantity, received_at
		) VALUES ($1, $2, $3::date, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := s.exec.QueryRowxContext(ctx, query,
		b.MedicineID, b.BatchCode, dateArg(b.ExpiryDate), b.QuantityAvailable,
		b.ReceivedQuantity, b.ReceivedAt,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// GetBatch gets a batch by ID
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	return s.getBatch(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
}

// LockBatch gets a batch by ID and holds its row lock until the transaction ends
func (s *Store) LockBatch(ctx context.Context, id int64) (*Batch, error) {
	return s.getBatch(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getBatch(ctx context.Context, query string, id int64) (*Batch, error) {
	var b Batch
	if err := sqlx.GetContext(ctx, s.exec, &b, query, id); err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &b, nil
}

// ListBatches lists every batch of a medicine, including empty and expired ones
func (s *Store) ListBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	batches := []Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE medicine_id = $1 ORDER BY expiry_date, id`
	if err := sqlx.SelectContext(ctx, s.exec, &batches, query, medicineID); err != nil {
		return nil, err
	}
	return batches, nil
}

// LockAllocatableBatches selects the batches an allocation may draw from,
// nearest expiry first with id as tie-break, and locks them in that order.
// Locking in one global order keeps concurrent allocations from deadlocking.
func (s *Store) LockAllocatableBatches(ctx context.Context, medicineID int64, today time.Time) ([]Batch, error) {
	batches := []Batch{}
	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE medicine_id = $1
		  AND quantity_available > 0
		  AND expiry_date > $2::date
		ORDER BY expiry_date ASC, id ASC
		FOR UPDATE
	`
	if err := sqlx.SelectContext(ctx, s.exec, &batches, query, medicineID, dateArg(today)); err != nil {
		return nil, err
	}
	return batches, nil
}

// DecrementBatch removes quantity from a batch. The guard on the current
// quantity makes an over-draw fail instead of going negative.
func (s *Store) DecrementBatch(ctx context.Context, id int64, quantity int) error {
	query := `
		UPDATE batches
		SET quantity_available = quantity_available - $2, updated_at = NOW()
		WHERE id = $1 AND quantity_available >= $2
	`

	result, err := s.exec.ExecContext(ctx, query, id, quantity)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.ConcurrencyConflict(fmt.Sprintf("batch %d no longer holds %d units", id, quantity), nil)
	}
	return nil
}

// SetBatchQuantity overwrites the available quantity of a batch
func (s *Store) SetBatchQuantity(ctx context.Context, id int64, quantity int) error {
	query := `UPDATE batches SET quantity_available = $2, updated_at = NOW() WHERE id = $1`

	result, err := s.exec.ExecContext(ctx, query, id, quantity)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound("batch")
	}
	return nil
}
