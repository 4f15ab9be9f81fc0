// Package stocktest provides an in-memory Repository and fixtures for
// exercising the stock services without PostgreSQL.
package stocktest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/errors"
)

type state struct {
	medicines   map[int64]repository.Medicine
	batches     map[int64]repository.Batch
	ledger      []repository.LedgerEntry
	fulfillment []repository.FulfillmentLine
	adjustments []repository.AdjustmentRecord
	nextID      int64
}

func (s *state) clone() *state {
	c := &state{
		medicines:   make(map[int64]repository.Medicine, len(s.medicines)),
		batches:     make(map[int64]repository.Batch, len(s.batches)),
		ledger:      append([]repository.LedgerEntry(nil), s.ledger...),
		fulfillment: append([]repository.FulfillmentLine(nil), s.fulfillment...),
		adjustments: append([]repository.AdjustmentRecord(nil), s.adjustments...),
		nextID:      s.nextID,
	}
	for id, m := range s.medicines {
		c.medicines[id] = m
	}
	for id, b := range s.batches {
		c.batches[id] = b
	}
	return c
}

// failureSet holds one-shot injected failures shared by a store and its
// transactions.
type failureSet struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *failureSet) set(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *failureSet) take(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[method]; ok {
		delete(f.errs, method)
		return err
	}
	return nil
}

// Memory is a Repository held in process memory. Transactions are
// serialized and work on a private copy of the data that replaces the
// committed state only on success, so readers outside a transaction never
// observe its uncommitted writes. Writes made outside WithTx commit on
// their own, like single statements in autocommit mode.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state
	inTx bool

	// Clock stamps created_at on inserted rows. Defaults to time.Now.
	Clock func() time.Time

	failures *failureSet
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		data: &state{
			medicines: make(map[int64]repository.Medicine),
			batches:   make(map[int64]repository.Batch),
		},
		Clock:    time.Now,
		failures: &failureSet{errs: make(map[string]error)},
	}
}

// FailOn makes the next call to the named method return err. The failure
// fires once.
func (m *Memory) FailOn(method string, err error) {
	m.failures.set(method, err)
}

func (m *Memory) id() int64 {
	m.data.nextID++
	return m.data.nextID
}

// WithTx runs fn against a private copy of the data and publishes the copy
// when fn succeeds. Transactions run one at a time.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, repo repository.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	work := &Memory{
		data:     m.data.clone(),
		inTx:     true,
		Clock:    m.Clock,
		failures: m.failures,
	}
	m.mu.Unlock()

	if err := fn(ctx, txView{work}); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = work.data
	m.mu.Unlock()
	return nil
}

// autocommit runs a single write outside any transaction as its own unit
func (m *Memory) autocommit(ctx context.Context, write func(ctx context.Context, repo repository.Repository) error) error {
	return m.WithTx(ctx, write)
}

// txView is the Repository handed to a transaction body. Nested WithTx
// calls join the running transaction.
type txView struct {
	*Memory
}

func (v txView) WithTx(ctx context.Context, fn func(ctx context.Context, repo repository.Repository) error) error {
	return fn(ctx, v)
}

// CreateMedicine creates a new medicine
func (m *Memory) CreateMedicine(ctx context.Context, med *repository.Medicine) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.CreateMedicine(ctx, med)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("CreateMedicine"); err != nil {
		return err
	}

	for _, existing := range m.data.medicines {
		if existing.Name == med.Name {
			return errors.Conflict("a medicine with this name already exists")
		}
	}
	med.ID = m.id()
	med.CreatedAt = m.Clock()
	m.data.medicines[med.ID] = *med
	return nil
}

// GetMedicine gets a medicine by ID
func (m *Memory) GetMedicine(_ context.Context, id int64) (*repository.Medicine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("GetMedicine"); err != nil {
		return nil, err
	}

	med, ok := m.data.medicines[id]
	if !ok {
		return nil, errors.NotFound("medicine")
	}
	return &med, nil
}

// CreateBatch creates a new batch
func (m *Memory) CreateBatch(ctx context.Context, b *repository.Batch) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.CreateBatch(ctx, b)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("CreateBatch"); err != nil {
		return err
	}

	if _, ok := m.data.medicines[b.MedicineID]; !ok {
		return errors.BadRequest("referenced record does not exist")
	}
	if b.QuantityAvailable < 0 {
		return errors.Validation(map[string]string{"quantity_available": "must not be negative"})
	}
	for _, existing := range m.data.batches {
		if existing.MedicineID == b.MedicineID && existing.BatchCode == b.BatchCode {
			return errors.Conflict("a batch with this code already exists for the medicine")
		}
	}

	now := m.Clock()
	b.ID = m.id()
	b.ExpiryDate = truncateDate(b.ExpiryDate)
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = now
	}
	m.data.batches[b.ID] = *b
	return nil
}

// GetBatch gets a batch by ID
func (m *Memory) GetBatch(_ context.Context, id int64) (*repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("GetBatch"); err != nil {
		return nil, err
	}

	b, ok := m.data.batches[id]
	if !ok {
		return nil, errors.NotFound("batch")
	}
	return &b, nil
}

// LockBatch gets a batch by ID
func (m *Memory) LockBatch(ctx context.Context, id int64) (*repository.Batch, error) {
	m.mu.Lock()
	err := m.failures.take("LockBatch")
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.GetBatch(ctx, id)
}

// ListBatches lists every batch of a medicine ordered by expiry then id
func (m *Memory) ListBatches(_ context.Context, medicineID int64) ([]repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ListBatches"); err != nil {
		return nil, err
	}

	return m.batchesWhere(func(b repository.Batch) bool { return b.MedicineID == medicineID }), nil
}

// LockAllocatableBatches returns the sellable batches in FEFO order
func (m *Memory) LockAllocatableBatches(_ context.Context, medicineID int64, today time.Time) ([]repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("LockAllocatableBatches"); err != nil {
		return nil, err
	}

	return m.batchesWhere(func(b repository.Batch) bool {
		return b.MedicineID == medicineID && b.Sellable(today)
	}), nil
}

func (m *Memory) batchesWhere(keep func(repository.Batch) bool) []repository.Batch {
	out := []repository.Batch{}
	for _, b := range m.data.batches {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DecrementBatch removes quantity from a batch if it still holds enough
func (m *Memory) DecrementBatch(ctx context.Context, id int64, quantity int) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.DecrementBatch(ctx, id, quantity)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("DecrementBatch"); err != nil {
		return err
	}

	b, ok := m.data.batches[id]
	if !ok || b.QuantityAvailable < quantity {
		return errors.ConcurrencyConflict(fmt.Sprintf("batch %d no longer holds %d units", id, quantity), nil)
	}
	b.QuantityAvailable -= quantity
	b.UpdatedAt = m.Clock()
	m.data.batches[id] = b
	return nil
}

// SetBatchQuantity overwrites the available quantity of a batch
func (m *Memory) SetBatchQuantity(ctx context.Context, id int64, quantity int) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.SetBatchQuantity(ctx, id, quantity)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("SetBatchQuantity"); err != nil {
		return err
	}

	b, ok := m.data.batches[id]
	if !ok {
		return errors.NotFound("batch")
	}
	if quantity < 0 {
		return errors.Validation(map[string]string{"quantity_available": "must not be negative"})
	}
	b.QuantityAvailable = quantity
	b.UpdatedAt = m.Clock()
	m.data.batches[id] = b
	return nil
}

// InsertLedgerEntry appends a ledger entry
func (m *Memory) InsertLedgerEntry(ctx context.Context, e *repository.LedgerEntry) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.InsertLedgerEntry(ctx, e)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("InsertLedgerEntry"); err != nil {
		return err
	}

	if !e.TransactionType.Valid() {
		return errors.Validation(map[string]string{
			"transaction_type": "must be one of: IN, OUT, ADJUSTMENT, TRANSFER, EXPIRED, DAMAGED",
		})
	}
	if e.Quantity == 0 {
		return errors.Validation(map[string]string{"quantity": "must not be zero"})
	}
	if _, ok := m.data.medicines[e.MedicineID]; !ok {
		return errors.BadRequest("referenced record does not exist")
	}

	e.ID = m.id()
	e.CreatedAt = m.Clock()
	m.data.ledger = append(m.data.ledger, *e)
	return nil
}

// ListLedger lists matching entries, most recent first
func (m *Memory) ListLedger(_ context.Context, filter repository.LedgerFilter) ([]repository.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ListLedger"); err != nil {
		return nil, err
	}

	entries := m.ledgerWhere(filter)
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(entries) {
			return []repository.LedgerEntry{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(entries) {
			end = len(entries)
		}
		entries = entries[filter.Offset:end]
	}
	return entries, nil
}

// CountLedger counts matching entries
func (m *Memory) CountLedger(_ context.Context, filter repository.LedgerFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("CountLedger"); err != nil {
		return 0, err
	}
	return int64(len(m.ledgerWhere(filter))), nil
}

// SumLedgerQuantity sums the signed quantity of matching entries
func (m *Memory) SumLedgerQuantity(_ context.Context, filter repository.LedgerFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("SumLedgerQuantity"); err != nil {
		return 0, err
	}

	total := 0
	for _, e := range m.ledgerWhere(filter) {
		total += e.Quantity
	}
	return total, nil
}

func (m *Memory) ledgerWhere(filter repository.LedgerFilter) []repository.LedgerEntry {
	out := []repository.LedgerEntry{}
	for i := range m.data.ledger {
		if filter.Matches(&m.data.ledger[i]) {
			out = append(out, m.data.ledger[i])
		}
	}
	return out
}

// InsertFulfillmentLine appends a fulfillment line
func (m *Memory) InsertFulfillmentLine(ctx context.Context, l *repository.FulfillmentLine) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.InsertFulfillmentLine(ctx, l)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("InsertFulfillmentLine"); err != nil {
		return err
	}

	if l.Quantity <= 0 {
		return errors.Validation(map[string]string{"quantity": "must be positive"})
	}
	l.ID = m.id()
	l.CreatedAt = m.Clock()
	m.data.fulfillment = append(m.data.fulfillment, *l)
	return nil
}

// ListFulfillmentLines lists the lines of a request in insertion order
func (m *Memory) ListFulfillmentLines(_ context.Context, requestID int64) ([]repository.FulfillmentLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ListFulfillmentLines"); err != nil {
		return nil, err
	}

	lines := []repository.FulfillmentLine{}
	for _, l := range m.data.fulfillment {
		if l.RequestID == requestID {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// HasFulfillment reports whether the request line already drew stock
func (m *Memory) HasFulfillment(_ context.Context, requestID, medicineID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("HasFulfillment"); err != nil {
		return false, err
	}

	for _, l := range m.data.fulfillment {
		if l.RequestID == requestID && l.MedicineID == medicineID {
			return true, nil
		}
	}
	return false, nil
}

// InsertAdjustment appends an adjustment record
func (m *Memory) InsertAdjustment(ctx context.Context, a *repository.AdjustmentRecord) error {
	if !m.inTx {
		return m.autocommit(ctx, func(ctx context.Context, repo repository.Repository) error {
			return repo.InsertAdjustment(ctx, a)
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("InsertAdjustment"); err != nil {
		return err
	}

	if a.Difference != a.NewQuantity-a.OldQuantity {
		return errors.BadRequest("data validation failed: adjustment_records_difference_matches")
	}
	a.ID = m.id()
	a.CreatedAt = m.Clock()
	m.data.adjustments = append(m.data.adjustments, *a)
	return nil
}

// ListAdjustments lists a medicine's adjustments, most recent first
func (m *Memory) ListAdjustments(_ context.Context, medicineID int64) ([]repository.AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ListAdjustments"); err != nil {
		return nil, err
	}

	records := []repository.AdjustmentRecord{}
	for i := len(m.data.adjustments) - 1; i >= 0; i-- {
		if m.data.adjustments[i].MedicineID == medicineID {
			records = append(records, m.data.adjustments[i])
		}
	}
	return records, nil
}

// StockLevels computes the stock position of every active medicine
func (m *Memory) StockLevels(_ context.Context, today time.Time) ([]repository.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("StockLevels"); err != nil {
		return nil, err
	}

	levels := []repository.StockLevel{}
	for _, med := range m.data.medicines {
		if med.IsActive {
			levels = append(levels, m.levelOf(med, today))
		}
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Name != levels[j].Name {
			return levels[i].Name < levels[j].Name
		}
		return levels[i].MedicineID < levels[j].MedicineID
	})
	return levels, nil
}

// StockLevelFor computes the stock position of one medicine
func (m *Memory) StockLevelFor(_ context.Context, medicineID int64, today time.Time) (*repository.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("StockLevelFor"); err != nil {
		return nil, err
	}

	med, ok := m.data.medicines[medicineID]
	if !ok {
		return nil, errors.NotFound("medicine")
	}
	level := m.levelOf(med, today)
	return &level, nil
}

func (m *Memory) levelOf(med repository.Medicine, today time.Time) repository.StockLevel {
	level := repository.StockLevel{MedicineID: med.ID, Name: med.Name, Unit: med.Unit}
	for _, b := range m.data.batches {
		if b.MedicineID != med.ID {
			continue
		}
		if !b.ExpiryDate.After(today) {
			level.ExpiredQuantity += b.QuantityAvailable
			continue
		}
		level.CurrentStock += b.QuantityAvailable
		if b.QuantityAvailable > 0 {
			level.ActiveBatches++
			if level.NearestExpiry == nil || b.ExpiryDate.Before(*level.NearestExpiry) {
				expiry := b.ExpiryDate
				level.NearestExpiry = &expiry
			}
		}
	}
	return level
}

// ExpiringBatches lists stocked batches expiring after today and no later than until
func (m *Memory) ExpiringBatches(_ context.Context, today, until time.Time) ([]repository.ExpiryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ExpiringBatches"); err != nil {
		return nil, err
	}

	return m.expiryRows(func(b repository.Batch) bool {
		return b.ExpiryDate.After(today) && !b.ExpiryDate.After(until)
	}), nil
}

// ExpiredBatches lists stocked batches that expired on or before today
func (m *Memory) ExpiredBatches(_ context.Context, today time.Time) ([]repository.ExpiryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures.take("ExpiredBatches"); err != nil {
		return nil, err
	}

	return m.expiryRows(func(b repository.Batch) bool {
		return !b.ExpiryDate.After(today)
	}), nil
}

func (m *Memory) expiryRows(keep func(repository.Batch) bool) []repository.ExpiryRow {
	rows := []repository.ExpiryRow{}
	for _, b := range m.batchesWhere(func(b repository.Batch) bool {
		return b.QuantityAvailable > 0 && keep(b)
	}) {
		rows = append(rows, repository.ExpiryRow{
			BatchID:           b.ID,
			MedicineID:        b.MedicineID,
			MedicineName:      m.data.medicines[b.MedicineID].Name,
			BatchCode:         b.BatchCode,
			ExpiryDate:        b.ExpiryDate,
			QuantityAvailable: b.QuantityAvailable,
		})
	}
	return rows
}

// Ledger returns every ledger entry in insertion order
func (m *Memory) Ledger() []repository.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.LedgerEntry(nil), m.data.ledger...)
}

// Adjustments returns every adjustment record in insertion order
func (m *Memory) Adjustments() []repository.AdjustmentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.AdjustmentRecord(nil), m.data.adjustments...)
}

// Quantity returns the available quantity of a batch, or -1 if it does not exist
func (m *Memory) Quantity(batchID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data.batches[batchID]
	if !ok {
		return -1
	}
	return b.QuantityAvailable
}

func truncateDate(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

var _ repository.Repository = (*Memory)(nil)
