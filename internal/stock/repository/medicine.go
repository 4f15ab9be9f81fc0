package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
)

// Medicine is the catalog identity batches belong to. Stock is never stored
// here; it is always derived from batches.
type Medicine struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Unit      string    `db:"unit" json:"unit"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CreateMedicine creates a new medicine
func (s *Store) CreateMedicine(ctx context.Context, m *Medicine) error {
	query := `
		INSERT INTO medicines (name, unit, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	if err := s.exec.QueryRowxContext(ctx, query, m.Name, m.Unit, m.IsActive).Scan(&m.ID, &m.CreatedAt); err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// GetMedicine gets a medicine by ID
func (s *Store) GetMedicine(ctx context.Context, id int64) (*Medicine, error) {
	var m Medicine
	query := `SELECT id, name, unit, is_active, created_at FROM medicines WHERE id = $1`
	if err := sqlx.GetContext(ctx, s.exec, &m, query, id); err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}
