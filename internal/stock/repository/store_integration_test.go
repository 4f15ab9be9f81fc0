package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/internal/stock/stocktest"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	suiteOnce sync.Once
	suite     *testutil.IntegrationSuite
	suiteErr  error
)

// newIntegrationStore starts (once) the shared Postgres container and
// returns a Store over a fresh schema.
func newIntegrationStore(t *testing.T, label string) *repository.Store {
	t.Helper()
	testutil.SkipIfShort(t)
	testutil.SkipIfCI(t)

	ctx := context.Background()
	suiteOnce.Do(func() {
		suite, suiteErr = testutil.NewIntegrationSuite(ctx)
	})
	if suiteErr != nil {
		t.Skipf("postgres container unavailable: %v", suiteErr)
	}

	return repository.NewStore(suite.SetupSchema(t, ctx, label, repository.Schema()))
}

func daysFromNow(days int) time.Time {
	y, m, d := time.Now().UTC().AddDate(0, 0, days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStore_ConcurrentAllocationNeverOversells(t *testing.T) {
	store := newIntegrationStore(t, "allocation")
	seed := stocktest.NewFixtures(t, store)
	ctx := testutil.DefaultTestContext(t)

	med := seed.Medicine()
	soon := seed.Batch(med.ID, daysFromNow(10), 4)
	later := seed.Batch(med.ID, daysFromNow(90), 6)

	svc := service.NewAllocationService(store, nil, nil, service.Settings{Location: time.UTC}, logger.Nop())

	var mu sync.Mutex
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := svc.Allocate(gctx, service.AllocateInput{MedicineID: med.ID, Quantity: 2})
			if err != nil {
				return err
			}
			mu.Lock()
			total += res.Allocated
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 10, total)

	for _, id := range []int64{soon.ID, later.ID} {
		b, err := store.GetBatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, b.QuantityAvailable)
	}

	sum, err := store.SumLedgerQuantity(ctx, repository.LedgerFilter{MedicineID: &med.ID, Type: repository.TransactionOut})
	require.NoError(t, err)
	assert.Equal(t, -10, sum)
}

func TestStore_AllocationSkipsExpiredBatches(t *testing.T) {
	store := newIntegrationStore(t, "expiry")
	seed := stocktest.NewFixtures(t, store)
	ctx := testutil.DefaultTestContext(t)

	med := seed.Medicine()
	seed.Batch(med.ID, daysFromNow(-3), 50)
	seed.Batch(med.ID, daysFromNow(0), 50)
	fresh := seed.Batch(med.ID, daysFromNow(1), 5)

	locked, err := store.LockAllocatableBatches(ctx, med.ID, daysFromNow(0))
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, fresh.ID, locked[0].ID)

	level, err := store.StockLevelFor(ctx, med.ID, daysFromNow(0))
	require.NoError(t, err)
	assert.Equal(t, 5, level.CurrentStock)
	assert.Equal(t, 100, level.ExpiredQuantity)
}

func TestStore_ConstraintsAreEnforced(t *testing.T) {
	store := newIntegrationStore(t, "constraints")
	seed := stocktest.NewFixtures(t, store)
	ctx := testutil.DefaultTestContext(t)

	med := seed.Medicine()
	batch := seed.Batch(med.ID, daysFromNow(30), 3, stocktest.WithCode("LOT-A"))

	t.Run("duplicate batch code", func(t *testing.T) {
		dup := &repository.Batch{
			MedicineID:        med.ID,
			BatchCode:         "LOT-A",
			ExpiryDate:        daysFromNow(60),
			QuantityAvailable: 1,
			ReceivedQuantity:  1,
		}
		err := database.Classify(store.CreateBatch(ctx, dup), "failed to create batch")
		assert.ErrorIs(t, err, errors.ErrConflict)
	})

	t.Run("decrement below zero", func(t *testing.T) {
		err := store.DecrementBatch(ctx, batch.ID, 4)
		assert.ErrorIs(t, err, errors.ErrConcurrencyConflict)

		b, err := store.GetBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, b.QuantityAvailable)
	})

	t.Run("zero quantity ledger entry", func(t *testing.T) {
		err := store.InsertLedgerEntry(ctx, &repository.LedgerEntry{
			MedicineID:      med.ID,
			TransactionType: repository.TransactionAdjustment,
			Quantity:        0,
			CreatedBy:       "tester",
		})
		assert.Error(t, err)
	})

	t.Run("failed unit of work leaves nothing behind", func(t *testing.T) {
		err := store.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
			if err := repo.DecrementBatch(ctx, batch.ID, 2); err != nil {
				return err
			}
			return repo.InsertLedgerEntry(ctx, &repository.LedgerEntry{
				MedicineID:      med.ID,
				BatchID:         &batch.ID,
				TransactionType: "SIDEWAYS",
				Quantity:        -2,
				CreatedBy:       "tester",
			})
		})
		require.Error(t, err)

		b, err := store.GetBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, b.QuantityAvailable)

		count, err := store.CountLedger(ctx, repository.LedgerFilter{MedicineID: &med.ID})
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
