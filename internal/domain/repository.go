package domain

import (
	"context"
	"time"
)

// RawEventRepository is the bronze store: append-only, keyed by idempotency
// hash, with lease-based claiming for concurrent transform workers.
type RawEventRepository interface {
	// Insert stages a raw event with insert-or-ignore semantics. It returns
	// false when a row with the same idempotency key already exists, which
	// is not an error.
	Insert(ctx context.Context, event RawEvent) (inserted bool, err error)

	// ClaimBatch leases up to limit unprocessed events to the named worker.
	// Rows claimed by other live workers are skipped; claims older than the
	// lease timeout are reclaimable (crashed worker tolerance).
	ClaimBatch(ctx context.Context, worker string, limit int, lease time.Duration) ([]RawEvent, error)

	// MarkProcessed finalizes an event. A non-empty processError records a
	// transform failure; the event is excluded from automatic reprocessing
	// either way. ProcessedAt is never cleared by the automatic loop.
	MarkProcessed(ctx context.Context, idempotencyKey string, processError string) error

	// ReleaseClaim returns a claimed-but-unfinished event to the pool, used
	// on transient store failures so another worker can retry immediately.
	ReleaseClaim(ctx context.Context, idempotencyKey string) error

	// RequeueFailed clears the processed marker and error annotation for the
	// named events. This is the manual reprocessing path; it is never called
	// by the automatic transform loop.
	RequeueFailed(ctx context.Context, idempotencyKeys []string) (int64, error)
}

// TransactionRepository is the silver store: validated, deduplicated,
// referentially intact transaction data.
type TransactionRepository interface {
	// CreateWithLineItems writes a transaction and its line items in one
	// atomic transaction, upserting on transaction_id so reprocessing a raw
	// event stays idempotent.
	CreateWithLineItems(ctx context.Context, txn Transaction, items []LineItem) error

	// CleanedSince returns transactions processed at or after the given time.
	CleanedSince(ctx context.Context, since time.Time) ([]Transaction, error)

	// LineItemsSince returns line items of transactions processed at or
	// after the given time.
	LineItemsSince(ctx context.Context, since time.Time) ([]LineItem, error)

	// AppendQualityFlag annotates a transaction with a quality rule name.
	// This is the only permitted post-insert mutation.
	AppendQualityFlag(ctx context.Context, transactionID, flag string) error

	// NewestProcessedAt returns the max processed_at across the silver
	// store, the zero time when empty. The refresh orchestrator compares it
	// against its watermark to skip no-op cycles.
	NewestProcessedAt(ctx context.Context) (time.Time, error)
}

// CatalogRepository reads the externally-owned product catalog.
type CatalogRepository interface {
	// Snapshot returns the full catalog for building a resolver index.
	Snapshot(ctx context.Context) ([]ProductCatalogEntry, error)

	// IncrementMatchCount bumps the historical match frequency used for
	// fuzzy-match tie-breaking. Best-effort; failures do not fail cleaning.
	IncrementMatchCount(ctx context.Context, productID string) error
}

// AlertRepository stores quality alerts for the external ticketing
// collaborator to poll.
type AlertRepository interface {
	// InsertAlert appends an alert unless one with the same dedup key
	// already exists. Returns false on the dedup short-circuit.
	InsertAlert(ctx context.Context, alert QualityAlert) (inserted bool, err error)

	// RecentAlerts returns alerts detected at or after the given time.
	RecentAlerts(ctx context.Context, since time.Time) ([]QualityAlert, error)
}

// MonitorRepository serves the monitor engine: operator-defined anomaly
// rules, windowed stats to evaluate them against, and the action ledger.
type MonitorRepository interface {
	// EnabledDefinitions returns all enabled monitors, freshly read each
	// engine run so operator edits take effect without a restart.
	EnabledDefinitions(ctx context.Context) ([]MonitorDefinition, error)

	// WindowStats computes the trailing-window aggregate picture a
	// predicate is evaluated against.
	WindowStats(ctx context.Context, window time.Duration) (WindowStats, error)

	// InsertAction appends to the agent action ledger unless an action with
	// the same dedup key exists (cooldown). Returns false when deduped.
	InsertAction(ctx context.Context, action AgentAction) (inserted bool, err error)
}

// AggregateRepository is the gold layer: recomputable projections plus the
// refresh mutual-exclusion lock and freshness state.
type AggregateRepository interface {
	// TryRefreshLock attempts the non-blocking orchestrator lock. False
	// means another instance holds it and this cycle should be skipped.
	TryRefreshLock(ctx context.Context) (bool, error)
	ReleaseRefreshLock(ctx context.Context) error

	// The refresh steps, each compute-then-swap in its own transaction so a
	// mid-refresh failure leaves the previous snapshot intact. Callers must
	// run them in this order: store daily, product daily, daily summary.
	RefreshStoreDaily(ctx context.Context) error
	RefreshProductDaily(ctx context.Context) error
	RefreshDailySummary(ctx context.Context) error

	State(ctx context.Context) (RefreshState, error)
	SetState(ctx context.Context, state RefreshState) error

	// Read surface for the dashboard collaborator.
	DailySummaries(ctx context.Context, days int) ([]DailySummary, error)
	StoreDaily(ctx context.Context, day time.Time) ([]StoreDailyAggregate, error)
	ProductDaily(ctx context.Context, day time.Time) ([]ProductDailyAggregate, error)
}

// FeedPublisher pushes triggered agent actions to the feed consumed by
// external operational tooling. The ledger row is the source of truth;
// publish failures are logged, never fatal.
type FeedPublisher interface {
	Publish(ctx context.Context, action AgentAction) error
}

// APIKeyRepository validates gateway API keys. Implementations should cache
// to keep the hot ingest path off the database.
type APIKeyRepository interface {
	IsValid(ctx context.Context, key string) (bool, error)
}
