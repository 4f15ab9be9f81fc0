package service

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	apperrors "github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_AppendsEntry(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	id, err := h.ledger.Record(context.Background(), RecordInput{
		MedicineID:    med.ID,
		BatchID:       &batch.ID,
		Type:          repository.TransactionIn,
		Quantity:      25,
		ReferenceType: "PURCHASE_ORDER",
		ReferenceID:   testutil.PtrInt64(314),
		Notes:         "monthly delivery",
		ActorID:       "storekeeper",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	ledger := h.repo.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, id, ledger[0].ID)
	assert.Equal(t, 25, ledger[0].Quantity)
	assert.Equal(t, "storekeeper", ledger[0].CreatedBy)

	// Recording never touches batch stock.
	assert.Equal(t, 10, h.repo.Quantity(batch.ID))
}

func TestRecord_RejectsMalformedInput(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()

	valid := RecordInput{
		MedicineID: med.ID,
		Type:       repository.TransactionOut,
		Quantity:   -1,
		ActorID:    "user-1",
	}

	tests := []struct {
		name   string
		mutate func(*RecordInput)
		field  string
	}{
		{"unknown type", func(in *RecordInput) { in.Type = "LOST" }, "transaction_type"},
		{"missing actor", func(in *RecordInput) { in.ActorID = " " }, "actor_id"},
		{"zero quantity", func(in *RecordInput) { in.Quantity = 0 }, "quantity"},
		{"positive OUT", func(in *RecordInput) { in.Quantity = 3 }, "quantity"},
		{"negative IN", func(in *RecordInput) { in.Type = repository.TransactionIn; in.Quantity = -3 }, "quantity"},
		{"no medicine", func(in *RecordInput) { in.MedicineID = 0 }, "medicine_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)

			_, err := h.ledger.Record(context.Background(), in)
			require.ErrorIs(t, err, apperrors.ErrValidation)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
	assert.Empty(t, h.repo.Ledger())
}

func TestRecord_BatchMustBelongToMedicine(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	other := h.seed.Medicine()
	batch := h.seed.Batch(other.ID, testutil.Date(2025, 6, 1), 10)

	_, err := h.ledger.Record(context.Background(), RecordInput{
		MedicineID: med.ID,
		BatchID:    &batch.ID,
		Type:       repository.TransactionDamaged,
		Quantity:   -1,
		ActorID:    "user-1",
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, h.repo.Ledger())
}

func TestRecord_UnknownMedicine(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.Record(context.Background(), RecordInput{
		MedicineID: 77,
		Type:       repository.TransactionTransfer,
		Quantity:   -2,
		ActorID:    "user-1",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransactionsFor_NewestFirstWithinRange(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	other := h.seed.Medicine()

	record := func(medicineID int64, at time.Time, quantity int) int64 {
		h.setNow(at)
		id, err := h.ledger.Record(context.Background(), RecordInput{
			MedicineID: medicineID,
			Type:       repository.TransactionIn,
			Quantity:   quantity,
			ActorID:    "user-1",
		})
		require.NoError(t, err)
		return id
	}

	jan10 := record(med.ID, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC), 1)
	jan12 := record(med.ID, time.Date(2025, 1, 12, 9, 0, 0, 0, time.UTC), 2)
	jan14 := record(med.ID, time.Date(2025, 1, 14, 9, 0, 0, 0, time.UTC), 3)
	record(other.ID, time.Date(2025, 1, 12, 9, 0, 0, 0, time.UTC), 4)

	all, err := h.ledger.TransactionsFor(context.Background(), med.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{jan14, jan12, jan10}, []int64{all[0].ID, all[1].ID, all[2].ID})

	from := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	ranged, err := h.ledger.TransactionsFor(context.Background(), med.ID, &DateRange{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, jan12, ranged[0].ID)

	_, err = h.ledger.TransactionsFor(context.Background(), med.ID, &DateRange{From: &to, To: &from})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.ledger.TransactionsFor(context.Background(), 999, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListRecent_Paginates(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 100)

	for i := 0; i < 5; i++ {
		_, err := h.allocation.Allocate(context.Background(), AllocateInput{MedicineID: med.ID, Quantity: 1})
		require.NoError(t, err)
	}
	_, err := h.ledger.Record(context.Background(), RecordInput{
		MedicineID: med.ID, Type: repository.TransactionIn, Quantity: 5, ActorID: "user-1",
	})
	require.NoError(t, err)

	page, total, err := h.ledger.ListRecent(context.Background(), repository.LedgerFilter{
		Type:   repository.TransactionOut,
		Limit:  2,
		Offset: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)
	for _, entry := range page {
		assert.Equal(t, repository.TransactionOut, entry.TransactionType)
	}

	_, _, err = h.ledger.ListRecent(context.Background(), repository.LedgerFilter{Type: "BOGUS"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
