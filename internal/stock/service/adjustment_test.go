package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	apperrors "github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/messaging"
	"github.com/medflow/medflow-stock/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust_BatchCorrection(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	record, err := h.adjustments.Adjust(context.Background(), AdjustInput{
		MedicineID:     med.ID,
		BatchID:        &batch.ID,
		AdjustmentType: "COUNT_CORRECTION",
		OldQuantity:    testutil.PtrInt(10),
		NewQuantity:    7,
		Reason:         "cycle count",
		ActorID:        "pharmacist-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 10, record.OldQuantity)
	assert.Equal(t, 7, record.NewQuantity)
	assert.Equal(t, -3, record.Difference)
	assert.Equal(t, 7, h.repo.Quantity(batch.ID))

	ledger := h.repo.Ledger()
	require.Len(t, ledger, 1)
	entry := ledger[0]
	assert.Equal(t, record.LedgerEntryID, entry.ID)
	assert.Equal(t, repository.TransactionAdjustment, entry.TransactionType)
	assert.Equal(t, record.Difference, entry.Quantity)
	assert.Equal(t, "ADJUSTMENT", entry.ReferenceType)
	assert.Equal(t, "Adjustment COUNT_CORRECTION: 10 -> 7 (cycle count)", entry.Notes)
	assert.Equal(t, batch.ID, *entry.BatchID)

	h.published.AssertEventPublished(t, messaging.EventStockAdjusted)
}

func TestAdjust_ReadsOldQuantityFromLockedBatch(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	record, err := h.adjustments.Adjust(context.Background(), AdjustInput{
		MedicineID:     med.ID,
		BatchID:        &batch.ID,
		AdjustmentType: "FOUND",
		NewQuantity:    12,
		ActorID:        "pharmacist-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, record.OldQuantity)
	assert.Equal(t, 2, record.Difference)
}

func TestAdjust_StaleOldQuantityIsConflict(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	_, err := h.allocation.Allocate(context.Background(), AllocateInput{MedicineID: med.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = h.adjustments.Adjust(context.Background(), AdjustInput{
		MedicineID:     med.ID,
		BatchID:        &batch.ID,
		AdjustmentType: "COUNT_CORRECTION",
		OldQuantity:    testutil.PtrInt(10),
		NewQuantity:    8,
		ActorID:        "pharmacist-1",
	})
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
	assert.Equal(t, 6, h.repo.Quantity(batch.ID))
	assert.Empty(t, h.repo.Adjustments())
}

func TestAdjust_MedicineLevelReconciliation(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	record, err := h.adjustments.Adjust(context.Background(), AdjustInput{
		MedicineID:     med.ID,
		AdjustmentType: "RECONCILIATION",
		OldQuantity:    testutil.PtrInt(10),
		NewQuantity:    9,
		Reason:         "paper ledger mismatch",
		ActorID:        "auditor",
	})
	require.NoError(t, err)
	assert.Nil(t, record.BatchID)
	assert.Equal(t, -1, record.Difference)

	// No batch context: the batch itself is left alone.
	assert.Equal(t, 10, h.repo.Quantity(batch.ID))

	ledger := h.repo.Ledger()
	require.Len(t, ledger, 1)
	assert.Nil(t, ledger[0].BatchID)
	assert.Equal(t, -1, ledger[0].Quantity)
}

func TestAdjust_Validation(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)
	other := h.seed.Medicine()

	tests := []struct {
		name string
		in   AdjustInput
	}{
		{"missing actor", AdjustInput{MedicineID: med.ID, BatchID: &batch.ID, AdjustmentType: "X", NewQuantity: 1}},
		{"missing type", AdjustInput{MedicineID: med.ID, BatchID: &batch.ID, NewQuantity: 1, ActorID: "u"}},
		{"negative new quantity", AdjustInput{MedicineID: med.ID, BatchID: &batch.ID, AdjustmentType: "X", NewQuantity: -1, ActorID: "u"}},
		{"no batch and no old quantity", AdjustInput{MedicineID: med.ID, AdjustmentType: "X", NewQuantity: 1, ActorID: "u"}},
		{"zero difference", AdjustInput{MedicineID: med.ID, BatchID: &batch.ID, AdjustmentType: "X", NewQuantity: 10, ActorID: "u"}},
		{"batch of another medicine", AdjustInput{MedicineID: other.ID, BatchID: &batch.ID, AdjustmentType: "X", NewQuantity: 1, ActorID: "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.adjustments.Adjust(context.Background(), tt.in)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	assert.Equal(t, 10, h.repo.Quantity(batch.ID))
	assert.Empty(t, h.repo.Ledger())
	assert.Empty(t, h.repo.Adjustments())
}

func TestAdjust_RecordFailureLeavesNoLedgerEntry(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	h.repo.FailOn("InsertAdjustment", stderrors.New("disk full"))

	_, err := h.adjustments.Adjust(context.Background(), AdjustInput{
		MedicineID:     med.ID,
		BatchID:        &batch.ID,
		AdjustmentType: "COUNT_CORRECTION",
		NewQuantity:    3,
		ActorID:        "pharmacist-1",
	})
	assert.ErrorIs(t, err, apperrors.ErrStorageFault)

	assert.Equal(t, 10, h.repo.Quantity(batch.ID))
	assert.Empty(t, h.repo.Ledger())
	assert.Empty(t, h.repo.Adjustments())
	h.published.AssertNoEventsPublished(t)
}

func TestAdjust_EveryRecordPairsWithOneLedgerEntry(t *testing.T) {
	h := newHarness(t)
	med := h.seed.Medicine()
	batch := h.seed.Batch(med.ID, testutil.Date(2025, 6, 1), 10)

	for _, qty := range []int{8, 11, 0, 4} {
		_, err := h.adjustments.Adjust(context.Background(), AdjustInput{
			MedicineID:     med.ID,
			BatchID:        &batch.ID,
			AdjustmentType: "COUNT_CORRECTION",
			NewQuantity:    qty,
			ActorID:        "pharmacist-1",
		})
		require.NoError(t, err)
	}

	entries := map[int64]repository.LedgerEntry{}
	for _, e := range h.repo.Ledger() {
		entries[e.ID] = e
	}

	records := h.repo.Adjustments()
	require.Len(t, records, 4)
	assert.Len(t, entries, 4)
	for _, record := range records {
		entry, ok := entries[record.LedgerEntryID]
		require.True(t, ok)
		assert.Equal(t, record.Difference, entry.Quantity)
		assert.Equal(t, repository.TransactionAdjustment, entry.TransactionType)
	}

	listed, err := h.adjustments.ListAdjustments(context.Background(), med.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, 4, listed[0].NewQuantity)
}
