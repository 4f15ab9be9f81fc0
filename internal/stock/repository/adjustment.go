package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AdjustmentRecord is the audit row of a manual correction. It always points
// at the ADJUSTMENT ledger entry written in the same transaction.
type AdjustmentRecord struct {
	ID             int64     `db:"id" json:"id"`
	MedicineID     int64     `db:"medicine_id" json:"medicine_id"`
	BatchID        *int64    `db:"batch_id" json:"batch_id,omitempty"`
	LedgerEntryID  int64     `db:"ledger_entry_id" json:"ledger_entry_id"`
	AdjustmentType string    `db:"adjustment_type" json:"adjustment_type"`
	OldQuantity    int       `db:"old_quantity" json:"old_quantity"`
	NewQuantity    int       `db:"new_quantity" json:"new_quantity"`
	Difference     int       `db:"difference" json:"difference"`
	Reason         string    `db:"reason" json:"reason"`
	AdjustedBy     string    `db:"adjusted_by" json:"adjusted_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// InsertAdjustment appends an adjustment record
func (s *Store) InsertAdjustment(ctx context.Context, a *AdjustmentRecord) error {
	query := `
		INSERT INTO adjustment_records (
			medicine_id, batch_id, ledger_entry_id, adjustment_type,
			old_quantity, new_quantity, difference, reason, adjusted_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	return s.exec.QueryRowxContext(ctx, query,
		a.MedicineID, a.BatchID, a.LedgerEntryID, a.AdjustmentType,
		a.OldQuantity, a.NewQuantity, a.Difference, a.Reason, a.AdjustedBy,
	).Scan(&a.ID, &a.CreatedAt)
}

// ListAdjustments lists a medicine's adjustments, most recent first
func (s *Store) ListAdjustments(ctx context.Context, medicineID int64) ([]AdjustmentRecord, error) {
	records := []AdjustmentRecord{}
	query := `
		SELECT id, medicine_id, batch_id, ledger_entry_id, adjustment_type,
		       old_quantity, new_quantity, difference, reason, adjusted_by, created_at
		FROM adjustment_records
		WHERE medicine_id = $1
		ORDER BY created_at DESC, id DESC
	`
	if err := sqlx.SelectContext(ctx, s.exec, &records, query, medicineID); err != nil {
		return nil, err
	}
	return records, nil
}
