package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/domain"
)

// RefreshAggregatesUseCase is the silver-to-gold orchestrator. Each cycle:
// skip when no silver row is newer than the watermark, skip when another
// instance holds the refresh lock, otherwise recompute the gold projections
// in fixed dependency order and advance the freshness state.
type RefreshAggregatesUseCase struct {
	aggs    domain.AggregateRepository
	txns    domain.TransactionRepository
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

// NewRefreshAggregatesUseCase creates a refresh orchestrator unit.
func NewRefreshAggregatesUseCase(aggs domain.AggregateRepository, txns domain.TransactionRepository, logger *slog.Logger, m *metrics.PipelineMetrics) *RefreshAggregatesUseCase {
	return &RefreshAggregatesUseCase{
		aggs:    aggs,
		txns:    txns,
		logger:  logger.With("component", "refresh_orchestrator"),
		metrics: m,
		now:     time.Now,
	}
}

// RunOnce executes one refresh cycle. It returns true when a refresh
// actually ran. A mid-refresh failure leaves the previous snapshots and
// state intact; the next tick retries.
func (uc *RefreshAggregatesUseCase) RunOnce(ctx context.Context) (bool, error) {
	newest, err := uc.txns.NewestProcessedAt(ctx)
	if err != nil {
		return false, fmt.Errorf("check silver freshness: %w", err)
	}
	state, err := uc.aggs.State(ctx)
	if err != nil {
		return false, fmt.Errorf("load refresh state: %w", err)
	}
	if newest.IsZero() || !newest.After(state.Watermark) {
		uc.count("skipped_no_data")
		return false, nil
	}

	locked, err := uc.aggs.TryRefreshLock(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !locked {
		// Another instance is refreshing; queueing a redundant attempt
		// would only add load.
		uc.count("skipped_locked")
		uc.logger.Debug("refresh lock held elsewhere, skipping cycle")
		return false, nil
	}
	defer func() {
		if err := uc.aggs.ReleaseRefreshLock(ctx); err != nil {
			uc.logger.Error("failed to release refresh lock", "error", err)
		}
	}()

	start := uc.now()
	// Base aggregates before aggregates-of-aggregates.
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"store_daily", uc.aggs.RefreshStoreDaily},
		{"product_daily", uc.aggs.RefreshProductDaily},
		{"daily_summary", uc.aggs.RefreshDailySummary},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			uc.count("failed")
			return false, fmt.Errorf("refresh %s: %w", step.name, err)
		}
	}

	next := domain.RefreshState{
		LastRefreshedAt: uc.now().UTC(),
		Watermark:       newest,
	}
	// last_refreshed_at is monotonic.
	if next.LastRefreshedAt.Before(state.LastRefreshedAt) {
		next.LastRefreshedAt = state.LastRefreshedAt
	}
	if err := uc.aggs.SetState(ctx, next); err != nil {
		uc.count("failed")
		return false, fmt.Errorf("record refresh state: %w", err)
	}

	if uc.metrics != nil {
		uc.metrics.RefreshDuration.Observe(uc.now().Sub(start).Seconds())
	}
	uc.count("refreshed")
	uc.logger.Info("aggregates refreshed", "watermark", next.Watermark, "duration_ms", uc.now().Sub(start).Milliseconds())
	return true, nil
}

func (uc *RefreshAggregatesUseCase) count(outcome string) {
	if uc.metrics != nil {
		uc.metrics.RefreshCycles.WithLabelValues(outcome).Inc()
	}
}
