package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// TransactionType classifies a stock movement
type TransactionType string

// Transaction types
const (
	TransactionIn         TransactionType = "IN"
	TransactionOut        TransactionType = "OUT"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionTransfer   TransactionType = "TRANSFER"
	TransactionExpired    TransactionType = "EXPIRED"
	TransactionDamaged    TransactionType = "DAMAGED"
)

// TransactionTypes lists every known type
var TransactionTypes = []TransactionType{
	TransactionIn, TransactionOut, TransactionAdjustment,
	TransactionTransfer, TransactionExpired, TransactionDamaged,
}

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// LedgerEntry is one append-only stock movement. Quantity is signed:
// outbound movements are negative.
type LedgerEntry struct {
	ID              int64           `db:"id" json:"id"`
	MedicineID      int64           `db:"medicine_id" json:"medicine_id"`
	BatchID         *int64          `db:"batch_id" json:"batch_id,omitempty"`
	TransactionType TransactionType `db:"transaction_type" json:"transaction_type"`
	Quantity        int             `db:"quantity" json:"quantity"`
	ReferenceType   string          `db:"reference_type" json:"reference_type"`
	ReferenceID     *int64          `db:"reference_id" json:"reference_id,omitempty"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	CreatedBy       string          `db:"created_by" json:"created_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// LedgerFilter narrows ledger queries. From is inclusive, To exclusive.
// A zero Limit returns every match.
type LedgerFilter struct {
	MedicineID *int64
	Type       TransactionType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Matches applies the filter to a single entry, ignoring pagination
func (f LedgerFilter) Matches(e *LedgerEntry) bool {
	if f.MedicineID != nil && e.MedicineID != *f.MedicineID {
		return false
	}
	if f.Type != "" && e.TransactionType != f.Type {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func (f LedgerFilter) where() (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.MedicineID != nil {
		add("medicine_id = $%d", *f.MedicineID)
	}
	if f.Type != "" {
		add("transaction_type = $%d", string(f.Type))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// InsertLedgerEntry appends an entry. There is no update or delete path.
func (s *Store) InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			medicine_id, batch_id, transaction_type, quantity,
			reference_type, reference_id, notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	return s.exec.QueryRowxContext(ctx, query,
		e.MedicineID, e.BatchID, string(e.TransactionType), e.Quantity,
		e.ReferenceType, e.ReferenceID, e.Notes, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt)
}

// ListLedger lists matching entries, most recent first
func (s *Store) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	where, args := filter.where()
	query := `
		SELECT id, medicine_id, batch_id, transaction_type, quantity,
		       reference_type, reference_id, notes, created_by, created_at
		FROM ledger_entries` + where + `
		ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	entries := []LedgerEntry{}
	if err := sqlx.SelectContext(ctx, s.exec, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountLedger counts matching entries
func (s *Store) CountLedger(ctx context.Context, filter LedgerFilter) (int64, error) {
	where, args := filter.where()
	var count int64
	if err := sqlx.GetContext(ctx, s.exec, &count, `SELECT COUNT(*) FROM ledger_entries`+where, args...); err != nil {
		return 0, err
	}
	return count, nil
}

// SumLedgerQuantity sums the signed quantity of matching entries
func (s *Store) SumLedgerQuantity(ctx context.Context, filter LedgerFilter) (int, error) {
	where, args := filter.where()
	var total int
	if err := sqlx.GetContext(ctx, s.exec, &total, `SELECT COALESCE(SUM(quantity), 0) FROM ledger_entries`+where, args...); err != nil {
		return 0, err
	}
	return total, nil
}
