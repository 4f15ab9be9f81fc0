package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// FulfillmentLine records which batch satisfied part of a request
type FulfillmentLine struct {
	ID         int64     `db:"id" json:"id"`
	RequestID  int64     `db:"request_id" json:"request_id"`
	BatchID    int64     `db:"batch_id" json:"batch_id"`
	MedicineID int64     `db:"medicine_id" json:"medicine_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// InsertFulfillmentLine appends a fulfillment line
func (s *Store) InsertFulfillmentLine(ctx context.Context, l *FulfillmentLine) error {
	query := `
		INSERT INTO fulfillment_lines (request_id, batch_id, medicine_id, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return s.exec.QueryRowxContext(ctx, query, l.RequestID, l.BatchID, l.MedicineID, l.Quantity).
		Scan(&l.ID, &l.CreatedAt)
}

// ListFulfillmentLines lists the lines of a request in the order they were drawn
func (s *Store) ListFulfillmentLines(ctx context.Context, requestID int64) ([]FulfillmentLine, error) {
	lines := []FulfillmentLine{}
	query := `
		SELECT id, request_id, batch_id, medicine_id, quantity, created_at
		FROM fulfillment_lines
		WHERE request_id = $1
		ORDER BY id
	`
	if err := sqlx.SelectContext(ctx, s.exec, &lines, query, requestID); err != nil {
		return nil, err
	}
	return lines, nil
}

// HasFulfillment reports whether any stock was already drawn for the request line
func (s *Store) HasFulfillment(ctx context.Context, requestID, medicineID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM fulfillment_lines WHERE request_id = $1 AND medicine_id = $2)`
	if err := sqlx.GetContext(ctx, s.exec, &exists, query, requestID, medicineID); err != nil {
		return false, err
	}
	return exists, nil
}
