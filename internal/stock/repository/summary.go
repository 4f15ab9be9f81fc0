package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
)

// StockLevel is the derived stock position of one medicine
type StockLevel struct {
	MedicineID      int64      `db:"medicine_id" json:"medicine_id"`
	Name            string     `db:"name" json:"name"`
	Unit            string     `db:"unit" json:"unit"`
	CurrentStock    int        `db:"current_stock" json:"current_stock"`
	ExpiredQuantity int        `db:"expired_quantity" json:"expired_quantity"`
	ActiveBatches   int        `db:"active_batches" json:"active_batches"`
	NearestExpiry   *time.Time `db:"nearest_expiry" json:"nearest_expiry,omitempty"`
}

// ExpiryRow is a batch with stock left, joined with its medicine's name
type ExpiryRow struct {
	BatchID           int64     `db:"batch_id" json:"batch_id"`
	MedicineID        int64     `db:"medicine_id" json:"medicine_id"`
	MedicineName      string    `db:"medicine_name" json:"medicine_name"`
	BatchCode         string    `db:"batch_code" json:"batch_code"`
	ExpiryDate        time.Time `db:"expiry_date" json:"expiry_date"`
	QuantityAvailable int       `db:"quantity_available" json:"quantity_available"`
}

// Current stock only counts batches that have not expired; expiring today
// counts as expired, matching allocation.
const stockLevelQuery = `
	SELECT m.id AS medicine_id, m.name, m.unit,
	       COALESCE(SUM(b.quantity_available) FILTER (WHERE b.expiry_date > $1::date), 0) AS current_stock,
	       COALESCE(SUM(b.quantity_available) FILTER (WHERE b.expiry_date <= $1::date), 0) AS expired_quantity,
	       COUNT(b.id) FILTER (WHERE b.expiry_date > $1::date AND b.quantity_available > 0) AS active_batches,
	       MIN(b.expiry_date) FILTER (WHERE b.expiry_date > $1::date AND b.quantity_available > 0) AS nearest_expiry
	FROM medicines m
	LEFT JOIN batches b ON b.medicine_id = m.id
`

// StockLevels computes the stock position of every active medicine
func (s *Store) StockLevels(ctx context.Context, today time.Time) ([]StockLevel, error) {
	levels := []StockLevel{}
	query := stockLevelQuery + `
	WHERE m.is_active
	GROUP BY m.id, m.name, m.unit
	ORDER BY m.name, m.id
	`
	if err := sqlx.SelectContext(ctx, s.exec, &levels, query, dateArg(today)); err != nil {
		return nil, err
	}
	return levels, nil
}

// StockLevelFor computes the stock position of one medicine
func (s *Store) StockLevelFor(ctx context.Context, medicineID int64, today time.Time) (*StockLevel, error) {
	var level StockLevel
	query := stockLevelQuery + `
	WHERE m.id = $2
	GROUP BY m.id, m.name, m.unit
	`
	if err := sqlx.GetContext(ctx, s.exec, &level, query, dateArg(today), medicineID); err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &level, nil
}

const expiryRowQuery = `
	SELECT b.id AS batch_id, b.medicine_id, m.name AS medicine_name,
	       b.batch_code, b.expiry_date, b.quantity_available
	FROM batches b
	JOIN medicines m ON m.id = b.medicine_id
	WHERE b.quantity_available > 0
`

// ExpiringBatches lists batches with stock expiring after today and no later than until
func (s *Store) ExpiringBatches(ctx context.Context, today, until time.Time) ([]ExpiryRow, error) {
	rows := []ExpiryRow{}
	query := expiryRowQuery + `
	  AND b.expiry_date > $1::date
	  AND b.expiry_date <= $2::date
	ORDER BY b.expiry_date, b.id
	`
	if err := sqlx.SelectContext(ctx, s.exec, &rows, query, dateArg(today), dateArg(until)); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExpiredBatches lists batches that expired with stock still on them
func (s *Store) ExpiredBatches(ctx context.Context, today time.Time) ([]ExpiryRow, error) {
	rows := []ExpiryRow{}
	query := expiryRowQuery + `
	  AND b.expiry_date <= $1::date
	ORDER BY b.expiry_date, b.id
	`
	if err := sqlx.SelectContext(ctx, s.exec, &rows, query, dateArg(today)); err != nil {
		return nil, err
	}
	return rows, nil
}
