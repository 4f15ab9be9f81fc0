package consumers

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/internal/stock/stocktest"
	apperrors "github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/messaging"
	"github.com/medflow/medflow-stock/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T) (*RequestEventConsumer, *stocktest.Memory, *stocktest.Fixtures) {
	t.Helper()

	repo := stocktest.NewMemory()
	settings := service.Settings{
		Now: func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) },
	}
	allocation := service.NewAllocationService(repo, nil, nil, settings, logger.Nop())

	c := &RequestEventConsumer{allocator: allocation, logger: logger.Nop()}
	return c, repo, stocktest.NewFixtures(t, repo)
}

func approvedEvent(t *testing.T, data messaging.MedicineRequestApprovedEvent) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventMedicineRequestApproved, "request-service", "corr-1", data)
	require.NoError(t, err)
	return event
}

func TestHandleRequestApproved_AllocatesEachLine(t *testing.T) {
	c, repo, seed := newTestConsumer(t)
	paracetamol := seed.Medicine()
	amoxicillin := seed.Medicine()
	p1 := seed.Batch(paracetamol.ID, testutil.Date(2025, 3, 1), 10)
	a1 := seed.Batch(amoxicillin.ID, testutil.Date(2025, 4, 1), 2)

	event := approvedEvent(t, messaging.MedicineRequestApprovedEvent{
		RequestID:  501,
		ApprovedBy: "doctor-3",
		Items: []messaging.ApprovedRequestItem{
			{MedicineID: paracetamol.ID, Quantity: 4},
			{MedicineID: amoxicillin.ID, Quantity: 5},
		},
	})

	require.NoError(t, c.handleRequestApproved(context.Background(), event))

	assert.Equal(t, 6, repo.Quantity(p1.ID))
	assert.Equal(t, 0, repo.Quantity(a1.ID))

	lines, err := repo.ListFulfillmentLines(context.Background(), 501)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	for _, entry := range repo.Ledger() {
		assert.Equal(t, ReferenceMedicineRequest, entry.ReferenceType)
		assert.Equal(t, "doctor-3", entry.CreatedBy)
	}
}

func TestHandleRequestApproved_RedeliveryDoesNotDispenseTwice(t *testing.T) {
	c, repo, seed := newTestConsumer(t)
	med := seed.Medicine()
	batch := seed.Batch(med.ID, testutil.Date(2025, 3, 1), 10)

	event := approvedEvent(t, messaging.MedicineRequestApprovedEvent{
		RequestID: 77,
		Items:     []messaging.ApprovedRequestItem{{MedicineID: med.ID, Quantity: 3}},
	})

	require.NoError(t, c.handleRequestApproved(context.Background(), event))
	require.NoError(t, c.handleRequestApproved(context.Background(), event))

	assert.Equal(t, 7, repo.Quantity(batch.ID))
	assert.Len(t, repo.Ledger(), 1)
}

func TestHandleRequestApproved_RepeatedMedicineLinesAreSummed(t *testing.T) {
	c, repo, seed := newTestConsumer(t)
	med := seed.Medicine()
	batch := seed.Batch(med.ID, testutil.Date(2025, 3, 1), 10)

	event := approvedEvent(t, messaging.MedicineRequestApprovedEvent{
		RequestID:  64,
		ApprovedBy: "doctor-3",
		Items: []messaging.ApprovedRequestItem{
			{MedicineID: med.ID, Quantity: 2},
			{MedicineID: med.ID, Quantity: 3},
		},
	})

	require.NoError(t, c.handleRequestApproved(context.Background(), event))
	assert.Equal(t, 5, repo.Quantity(batch.ID))

	ledger := repo.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, -5, ledger[0].Quantity)

	// Redelivery still dispenses nothing more.
	require.NoError(t, c.handleRequestApproved(context.Background(), event))
	assert.Equal(t, 5, repo.Quantity(batch.ID))
}

func TestMergeLines(t *testing.T) {
	merged := mergeLines([]messaging.ApprovedRequestItem{
		{MedicineID: 3, Quantity: 1},
		{MedicineID: 1, Quantity: 2},
		{MedicineID: 3, Quantity: 4},
	})
	assert.Equal(t, []messaging.ApprovedRequestItem{
		{MedicineID: 3, Quantity: 5},
		{MedicineID: 1, Quantity: 2},
	}, merged)
}

func TestHandleRequestApproved_UnknownMedicineIsPermanent(t *testing.T) {
	c, _, _ := newTestConsumer(t)

	event := approvedEvent(t, messaging.MedicineRequestApprovedEvent{
		RequestID: 8,
		Items:     []messaging.ApprovedRequestItem{{MedicineID: 4040, Quantity: 1}},
	})

	err := c.handleRequestApproved(context.Background(), event)
	assert.ErrorIs(t, err, messaging.ErrPermanent)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHandleRequestApproved_StorageFaultIsRetryable(t *testing.T) {
	c, repo, seed := newTestConsumer(t)
	med := seed.Medicine()
	seed.Batch(med.ID, testutil.Date(2025, 3, 1), 10)
	repo.FailOn("DecrementBatch", stderrors.New("connection reset"))

	event := approvedEvent(t, messaging.MedicineRequestApprovedEvent{
		RequestID: 9,
		Items:     []messaging.ApprovedRequestItem{{MedicineID: med.ID, Quantity: 1}},
	})

	err := c.handleRequestApproved(context.Background(), event)
	require.Error(t, err)
	assert.NotErrorIs(t, err, messaging.ErrPermanent)
	assert.ErrorIs(t, err, apperrors.ErrStorageFault)
}

func TestHandleRequestApproved_MalformedPayload(t *testing.T) {
	c, _, _ := newTestConsumer(t)

	event := &messaging.Event{Type: messaging.EventMedicineRequestApproved, Data: []byte(`{"request_id":"x"}`)}
	assert.ErrorIs(t, c.handleRequestApproved(context.Background(), event), messaging.ErrPermanent)

	event = approvedEvent(t, messaging.MedicineRequestApprovedEvent{})
	assert.ErrorIs(t, c.handleRequestApproved(context.Background(), event), messaging.ErrPermanent)
}
