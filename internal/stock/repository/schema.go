package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema returns the DDL for the stock tables. Every statement is idempotent.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS medicines (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			unit VARCHAR(50) NOT NULL DEFAULT 'unit',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT medicines_medicine_name_key UNIQUE (name)
		)`,

		`CREATE TABLE IF NOT EXISTS batches (
			id BIGSERIAL PRIMARY KEY,
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			batch_code VARCHAR(100) NOT NULL,
			expiry_date DATE NOT NULL,
			quantity_available INT NOT NULL,
			received_quantity INT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT batches_quantity_available_nonnegative CHECK (quantity_available >= 0),
			CONSTRAINT batches_medicine_id_batch_code_key UNIQUE (medicine_id, batch_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_fefo ON batches (medicine_id, expiry_date, id)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			batch_id BIGINT REFERENCES batches(id),
			transaction_type VARCHAR(20) NOT NULL,
			quantity INT NOT NULL,
			reference_type VARCHAR(50) NOT NULL DEFAULT '',
			reference_id BIGINT,
			notes TEXT NOT NULL DEFAULT '',
			created_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ledger_entries_transaction_type_valid
				CHECK (transaction_type IN ('IN', 'OUT', 'ADJUSTMENT', 'TRANSFER', 'EXPIRED', 'DAMAGED')),
			CONSTRAINT ledger_entries_quantity_nonzero CHECK (quantity <> 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_medicine ON ledger_entries (medicine_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_created ON ledger_entries (created_at)`,

		`CREATE TABLE IF NOT EXISTS fulfillment_lines (
			id BIGSERIAL PRIMARY KEY,
			request_id BIGINT NOT NULL,
			batch_id BIGINT NOT NULL REFERENCES batches(id),
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			quantity INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT fulfillment_lines_quantity_positive CHECK (quantity > 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_lines_request ON fulfillment_lines (request_id, medicine_id)`,

		`CREATE TABLE IF NOT EXISTS adjustment_records (
			id BIGSERIAL PRIMARY KEY,
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			batch_id BIGINT REFERENCES batches(id),
			ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries(id),
			adjustment_type VARCHAR(50) NOT NULL,
			old_quantity INT NOT NULL,
			new_quantity INT NOT NULL,
			difference INT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			adjusted_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT adjustment_records_difference_matches CHECK (difference = new_quantity - old_quantity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustment_records_medicine ON adjustment_records (medicine_id, created_at DESC)`,
	}
}

// Migrate applies Schema in order
func Migrate(ctx context.Context, db sqlx.ExecerContext) error {
	for i, stmt := range Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
