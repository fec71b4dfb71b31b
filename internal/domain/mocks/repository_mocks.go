package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/retailops/posflow/internal/domain"
)

// MockRawEventRepository is an in-memory implementation of
// domain.RawEventRepository for testing.
type MockRawEventRepository struct {
	mu          sync.Mutex
	Events      map[string]*domain.RawEvent
	ClaimResult []domain.RawEvent
	InsertErr   error
	ClaimErr    error
	MarkErr     error
	ReleaseErr  error
	Released    []string
	Marked      map[string]string // key -> process error annotation
}

func NewMockRawEventRepository() *MockRawEventRepository {
	return &MockRawEventRepository{
		Events: make(map[string]*domain.RawEvent),
		Marked: make(map[string]string),
	}
}

func (m *MockRawEventRepository) Insert(ctx context.Context, event domain.RawEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return false, m.InsertErr
	}
	if _, exists := m.Events[event.IdempotencyKey]; exists {
		return false, nil
	}
	m.Events[event.IdempotencyKey] = &event
	return true, nil
}

func (m *MockRawEventRepository) ClaimBatch(ctx context.Context, worker string, limit int, lease time.Duration) ([]domain.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	if m.ClaimResult != nil {
		out := m.ClaimResult
		m.ClaimResult = nil
		return out, nil
	}
	var out []domain.RawEvent
	now := time.Now()
	for _, ev := range m.Events {
		if ev.ProcessedAt != nil || len(out) >= limit {
			continue
		}
		if ev.ClaimedAt != nil && now.Sub(*ev.ClaimedAt) < lease {
			continue
		}
		claimed := now
		ev.ClaimedAt = &claimed
		ev.ClaimedBy = worker
		out = append(out, *ev)
	}
	return out, nil
}

func (m *MockRawEventRepository) MarkProcessed(ctx context.Context, key, processError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Marked[key] = processError
	if ev, ok := m.Events[key]; ok {
		now := time.Now()
		ev.ProcessedAt = &now
		ev.ProcessError = processError
	}
	return nil
}

func (m *MockRawEventRepository) ReleaseClaim(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	m.Released = append(m.Released, key)
	if ev, ok := m.Events[key]; ok {
		ev.ClaimedAt = nil
		ev.ClaimedBy = ""
	}
	return nil
}

func (m *MockRawEventRepository) RequeueFailed(ctx context.Context, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if ev, ok := m.Events[key]; ok && ev.ProcessedAt != nil && ev.ProcessError != "" {
			ev.ProcessedAt = nil
			ev.ProcessError = ""
			ev.ClaimedAt = nil
			ev.ClaimedBy = ""
			delete(m.Marked, key)
			n++
		}
	}
	return n, nil
}

// MockTransactionRepository is an in-memory domain.TransactionRepository.
type MockTransactionRepository struct {
	mu           sync.Mutex
	Transactions []domain.Transaction
	LineItems    []domain.LineItem
	Flags        map[string][]string // transaction id -> appended flags
	CreateErr    error
	QueryErr     error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{Flags: make(map[string][]string)}
}

func (m *MockTransactionRepository) CreateWithLineItems(ctx context.Context, txn domain.Transaction, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	for i, existing := range m.Transactions {
		if existing.TransactionID == txn.TransactionID {
			m.Transactions[i] = txn
			return nil
		}
	}
	m.Transactions = append(m.Transactions, txn)
	m.LineItems = append(m.LineItems, items...)
	return nil
}

func (m *MockTransactionRepository) CleanedSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []domain.Transaction
	for _, t := range m.Transactions {
		if !t.ProcessedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTransactionRepository) LineItemsSince(ctx context.Context, since time.Time) ([]domain.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	recent := make(map[string]bool)
	for _, t := range m.Transactions {
		if !t.ProcessedAt.Before(since) {
			recent[t.TransactionID] = true
		}
	}
	var out []domain.LineItem
	for _, li := range m.LineItems {
		if recent[li.TransactionID] {
			out = append(out, li)
		}
	}
	return out, nil
}

func (m *MockTransactionRepository) AppendQualityFlag(ctx context.Context, transactionID, flag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Flags[transactionID] {
		if f == flag {
			return nil
		}
	}
	m.Flags[transactionID] = append(m.Flags[transactionID], flag)
	for i := range m.Transactions {
		if m.Transactions[i].TransactionID == transactionID {
			m.Transactions[i].QualityFlags = append(m.Transactions[i].QualityFlags, flag)
		}
	}
	return nil
}

func (m *MockTransactionRepository) NewestProcessedAt(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return time.Time{}, m.QueryErr
	}
	var newest time.Time
	for _, t := range m.Transactions {
		if t.ProcessedAt.After(newest) {
			newest = t.ProcessedAt
		}
	}
	return newest, nil
}

// MockCatalogRepository is an in-memory domain.CatalogRepository.
type MockCatalogRepository struct {
	mu          sync.Mutex
	Entries     []domain.ProductCatalogEntry
	Incremented []string
	SnapshotErr error
}

func (m *MockCatalogRepository) Snapshot(ctx context.Context) ([]domain.ProductCatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SnapshotErr != nil {
		return nil, m.SnapshotErr
	}
	return m.Entries, nil
}

func (m *MockCatalogRepository) IncrementMatchCount(ctx context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Incremented = append(m.Incremented, productID)
	return nil
}

// MockAlertRepository is an in-memory domain.AlertRepository with dedup.
type MockAlertRepository struct {
	mu        sync.Mutex
	Alerts    []domain.QualityAlert
	InsertErr error
}

func (m *MockAlertRepository) InsertAlert(ctx context.Context, alert domain.QualityAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return false, m.InsertErr
	}
	for _, a := range m.Alerts {
		if a.DedupKey == alert.DedupKey {
			return false, nil
		}
	}
	m.Alerts = append(m.Alerts, alert)
	return true, nil
}

func (m *MockAlertRepository) RecentAlerts(ctx context.Context, since time.Time) ([]domain.QualityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QualityAlert
	for _, a := range m.Alerts {
		if !a.DetectedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// MockMonitorRepository is an in-memory domain.MonitorRepository.
type MockMonitorRepository struct {
	mu          sync.Mutex
	Definitions []domain.MonitorDefinition
	Stats       domain.WindowStats
	Actions     []domain.AgentAction
	DefsErr     error
	StatsErr    error
	ActionErr   error
}

func (m *MockMonitorRepository) EnabledDefinitions(ctx context.Context) ([]domain.MonitorDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DefsErr != nil {
		return nil, m.DefsErr
	}
	var out []domain.MonitorDefinition
	for _, d := range m.Definitions {
		if d.IsEnabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockMonitorRepository) WindowStats(ctx context.Context, window time.Duration) (domain.WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatsErr != nil {
		return domain.WindowStats{}, m.StatsErr
	}
	stats := m.Stats
	stats.WindowMinutes = int(window / time.Minute)
	return stats, nil
}

func (m *MockMonitorRepository) InsertAction(ctx context.Context, action domain.AgentAction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActionErr != nil {
		return false, m.ActionErr
	}
	for _, a := range m.Actions {
		if a.DedupKey == action.DedupKey {
			return false, nil
		}
	}
	m.Actions = append(m.Actions, action)
	return true, nil
}

// MockAggregateRepository tracks refresh calls and lock state in memory.
type MockAggregateRepository struct {
	mu           sync.Mutex
	Locked       bool
	LockHeld     bool // simulates another instance holding the lock
	RefreshCalls []string
	RefreshState domain.RefreshState
	Summaries    []domain.DailySummary
	Stores       []domain.StoreDailyAggregate
	Products     []domain.ProductDailyAggregate
	LockErr      error
	RefreshErr   map[string]error
}

func (m *MockAggregateRepository) TryRefreshLock(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LockErr != nil {
		return false, m.LockErr
	}
	if m.LockHeld || m.Locked {
		return false, nil
	}
	m.Locked = true
	return true, nil
}

func (m *MockAggregateRepository) ReleaseRefreshLock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locked = false
	return nil
}

func (m *MockAggregateRepository) refresh(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.RefreshErr[name]; err != nil {
		return err
	}
	m.RefreshCalls = append(m.RefreshCalls, name)
	return nil
}

func (m *MockAggregateRepository) RefreshStoreDaily(ctx context.Context) error {
	return m.refresh("store_daily")
}

func (m *MockAggregateRepository) RefreshProductDaily(ctx context.Context) error {
	return m.refresh("product_daily")
}

func (m *MockAggregateRepository) RefreshDailySummary(ctx context.Context) error {
	return m.refresh("daily_summary")
}

func (m *MockAggregateRepository) State(ctx context.Context) (domain.RefreshState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RefreshState, nil
}

func (m *MockAggregateRepository) SetState(ctx context.Context, state domain.RefreshState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshState = state
	return nil
}

func (m *MockAggregateRepository) DailySummaries(ctx context.Context, days int) ([]domain.DailySummary, error) {
	return m.Summaries, nil
}

func (m *MockAggregateRepository) StoreDaily(ctx context.Context, day time.Time) ([]domain.StoreDailyAggregate, error) {
	return m.Stores, nil
}

func (m *MockAggregateRepository) ProductDaily(ctx context.Context, day time.Time) ([]domain.ProductDailyAggregate, error) {
	return m.Products, nil
}

// MockFeedPublisher records published actions.
type MockFeedPublisher struct {
	mu         sync.Mutex
	Published  []domain.AgentAction
	PublishErr error
}

func (m *MockFeedPublisher) Publish(ctx context.Context, action domain.AgentAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, action)
	return nil
}
