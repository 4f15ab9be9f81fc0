package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/events"
	"github.com/medflow/medflow-stock/internal/stock/stocktest"
	"github.com/medflow/medflow-stock/pkg/lock"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

// harness wires every service over one in-memory store with a pinned clock.
// "today" is 2025-01-15.
type harness struct {
	repo      *stocktest.Memory
	seed      *stocktest.Fixtures
	published *testutil.MockPublisher
	settings  Settings

	allocation  *AllocationService
	ledger      *LedgerService
	adjustments *AdjustmentService
	batches     *BatchService
	reports     *ReportService

	clockMu sync.Mutex
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithLocker(t, nil)
}

func newHarnessWithLocker(t *testing.T, locker Locker) *harness {
	t.Helper()

	h := &harness{
		repo:      stocktest.NewMemory(),
		published: testutil.NewMockPublisher(),
		now:       time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	h.repo.Clock = h.clock
	h.seed = stocktest.NewFixtures(t, h.repo)
	h.settings = Settings{
		Location:             time.UTC,
		DefaultReferenceType: "DISPENSE",
		LowStockThreshold:    10,
		ExpiringWindowDays:   30,
		Now:                  h.clock,
	}

	log := logger.Nop()
	publisher := events.NewWithPublisher(h.published, log)

	h.allocation = NewAllocationService(h.repo, locker, publisher, h.settings, log)
	h.ledger = NewLedgerService(h.repo, log)
	h.adjustments = NewAdjustmentService(h.repo, locker, publisher, log)
	h.batches = NewBatchService(h.repo, locker, publisher, h.settings, log)
	h.reports = NewReportService(h.repo, h.settings, log)
	return h
}

func (h *harness) clock() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.now
}

func (h *harness) setNow(t time.Time) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.now = t
}

// fakeLocker records lock traffic and can refuse
type fakeLocker struct {
	mu       sync.Mutex
	locked   []int64
	released int
	err      error
}

func (l *fakeLocker) Lock(_ context.Context, medicineID int64) (lock.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, medicineID)
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func TestSettings_Today(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 20:00 UTC on the 14th is already the 15th in Manila.
	s := Settings{
		Location: manila,
		Now:      func() time.Time { return time.Date(2025, 1, 14, 20, 0, 0, 0, time.UTC) },
	}.withDefaults()

	assert.Equal(t, testutil.Date(2025, 1, 15), s.Today())
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, manila), s.StartOfDay())
}

func TestSettings_Defaults(t *testing.T) {
	s := Settings{}.withDefaults()

	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, "DISPENSE", s.DefaultReferenceType)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", s.SystemActorID)
	assert.Equal(t, 30, s.ExpiringWindowDays)
	assert.NotNil(t, s.Now)
}
