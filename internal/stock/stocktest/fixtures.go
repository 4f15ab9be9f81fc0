package stocktest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
)

// MedicineOption customizes a medicine fixture
type MedicineOption func(*repository.Medicine)

// WithName sets the medicine name
func WithName(name string) MedicineOption {
	return func(m *repository.Medicine) { m.Name = name }
}

// Inactive marks the medicine inactive
func Inactive() MedicineOption {
	return func(m *repository.Medicine) { m.IsActive = false }
}

// BatchOption customizes a batch fixture
type BatchOption func(*repository.Batch)

// WithCode sets the batch code
func WithCode(code string) BatchOption {
	return func(b *repository.Batch) { b.BatchCode = code }
}

// ReceivedAt sets when the batch was received
func ReceivedAt(at time.Time) BatchOption {
	return func(b *repository.Batch) { b.ReceivedAt = at }
}

// Fixtures seeds a Repository with medicines and batches
type Fixtures struct {
	t     *testing.T
	repo  repository.Repository
	count int
}

// NewFixtures creates a fixture builder over repo
func NewFixtures(t *testing.T, repo repository.Repository) *Fixtures {
	return &Fixtures{t: t, repo: repo}
}

// Medicine creates an active medicine
func (f *Fixtures) Medicine(opts ...MedicineOption) *repository.Medicine {
	f.t.Helper()
	f.count++

	m := &repository.Medicine{
		Name:     fmt.Sprintf("Medicine %03d", f.count),
		Unit:     "tablet",
		IsActive: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := f.repo.CreateMedicine(context.Background(), m); err != nil {
		f.t.Fatalf("create medicine fixture: %v", err)
	}
	return m
}

// Batch creates a batch of quantity units expiring on expiry
func (f *Fixtures) Batch(medicineID int64, expiry time.Time, quantity int, opts ...BatchOption) *repository.Batch {
	f.t.Helper()
	f.count++

	b := &repository.Batch{
		MedicineID:        medicineID,
		BatchCode:         fmt.Sprintf("LOT-%04d", f.count),
		ExpiryDate:        expiry,
		QuantityAvailable: quantity,
		ReceivedQuantity:  quantity,
		ReceivedAt:        time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := f.repo.CreateBatch(context.Background(), b); err != nil {
		f.t.Fatalf("create batch fixture: %v", err)
	}
	return b
}
