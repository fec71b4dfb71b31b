package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/pkg/config"
	"github.com/retailops/posflow/internal/resolver"
)

// TransformEventsUseCase is the bronze-to-silver step: it claims a batch of
// unprocessed raw events, cleans and validates them, links line items to the
// catalog, and writes transactions to the silver store. Multiple instances
// can run concurrently; the lease-based claim prevents double-processing.
type TransformEventsUseCase struct {
	raw     domain.RawEventRepository
	txns    domain.TransactionRepository
	catalog domain.CatalogRepository
	rules   *config.RulesLoader
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics

	worker    string
	batchSize int
	lease     time.Duration
	now       func() time.Time
}

// NewTransformEventsUseCase creates a transform worker unit.
func NewTransformEventsUseCase(
	raw domain.RawEventRepository,
	txns domain.TransactionRepository,
	catalog domain.CatalogRepository,
	rules *config.RulesLoader,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	worker string,
	batchSize int,
	lease time.Duration,
) *TransformEventsUseCase {
	return &TransformEventsUseCase{
		raw:       raw,
		txns:      txns,
		catalog:   catalog,
		rules:     rules,
		logger:    logger.With("component", "transform_worker", "worker", worker),
		metrics:   m,
		worker:    worker,
		batchSize: batchSize,
		lease:     lease,
		now:       time.Now,
	}
}

// RunOnce claims and processes one batch. Processing is transactional per
// event, not per batch: one bad event never rolls back its siblings. It
// returns the number of events cleaned and the number marked failed.
func (uc *TransformEventsUseCase) RunOnce(ctx context.Context) (cleaned, failed int, err error) {
	start := uc.now()
	events, err := uc.raw.ClaimBatch(ctx, uc.worker, uc.batchSize, uc.lease)
	if err != nil {
		return 0, 0, fmt.Errorf("claim batch: %w", err)
	}
	if uc.metrics != nil {
		uc.metrics.UnprocessedGauge.Set(float64(len(events)))
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	catalog, err := uc.catalog.Snapshot(ctx)
	if err != nil {
		// Without a catalog snapshot nothing can be resolved; release the
		// claims so another worker (or the next tick) retries.
		uc.releaseAll(ctx, events)
		return 0, 0, fmt.Errorf("catalog snapshot: %w", err)
	}
	index := resolver.NewIndex(catalog, uc.rules.Rules().Resolver.SimilarityThreshold)

	for _, ev := range events {
		select {
		case <-ctx.Done():
			// Remaining claims expire via the lease timeout.
			return cleaned, failed, ctx.Err()
		default:
		}

		switch ok, procErr := uc.processOne(ctx, ev, index); {
		case procErr != nil:
			// Transient store failure: the claim was released, another run
			// retries this event.
			uc.logger.Error("transform failed, claim released", "idempotency_key", ev.IdempotencyKey, "error", procErr)
			if uc.metrics != nil {
				uc.metrics.TransformEvents.WithLabelValues("released").Inc()
			}
		case ok:
			cleaned++
			if uc.metrics != nil {
				uc.metrics.TransformEvents.WithLabelValues("cleaned").Inc()
			}
		default:
			failed++
			if uc.metrics != nil {
				uc.metrics.TransformEvents.WithLabelValues("failed").Inc()
			}
		}
	}

	if uc.metrics != nil {
		uc.metrics.TransformDuration.Observe(uc.now().Sub(start).Seconds())
	}
	uc.logger.Info("transform batch complete", "claimed", len(events), "cleaned", cleaned, "failed", failed)
	return cleaned, failed, nil
}

// processOne handles a single claimed event. The first return is true when
// the event was cleaned, false when it was marked failed with a transform
// annotation. A non-nil error means a transient store problem: the event's
// claim has been released for retry.
func (uc *TransformEventsUseCase) processOne(ctx context.Context, ev domain.RawEvent, index *resolver.Index) (bool, error) {
	txn, items, cleanErr := uc.clean(ev)
	if cleanErr != nil {
		if err := uc.raw.MarkProcessed(ctx, ev.IdempotencyKey, cleanErr.Error()); err != nil {
			uc.release(ctx, ev)
			return false, fmt.Errorf("mark failed event: %w", err)
		}
		uc.logger.Warn("raw event failed cleaning", "idempotency_key", ev.IdempotencyKey, "error", cleanErr)
		return false, nil
	}

	var resolved []string
	for i := range items {
		match, ok := index.Resolve(items[i].RawProductText)
		if !ok {
			continue
		}
		id := match.ProductID
		conf := match.Confidence
		items[i].ResolvedProductID = &id
		items[i].ResolutionConfidence = &conf
		resolved = append(resolved, id)
	}

	if err := uc.txns.CreateWithLineItems(ctx, txn, items); err != nil {
		uc.release(ctx, ev)
		return false, fmt.Errorf("write transaction: %w", err)
	}

	// Match-frequency bookkeeping feeds the resolver tie-break; best effort.
	for _, id := range resolved {
		if err := uc.catalog.IncrementMatchCount(ctx, id); err != nil {
			uc.logger.Warn("failed to bump catalog match count", "product_id", id, "error", err)
		}
	}

	if err := uc.raw.MarkProcessed(ctx, ev.IdempotencyKey, ""); err != nil {
		// The silver write is idempotent on transaction_id, so a reclaim
		// and re-run of this event converges.
		uc.release(ctx, ev)
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return true, nil
}

// clean parses and validates a raw payload into silver records. Any error
// here is a TransformError: the event is annotated, not retried.
func (uc *TransformEventsUseCase) clean(ev domain.RawEvent) (domain.Transaction, []domain.LineItem, error) {
	var payload domain.TransactionPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.Transaction{}, nil, &domain.TransformError{Reason: "unparseable payload", Err: err}
	}
	if payload.StoreID == "" {
		return domain.Transaction{}, nil, &domain.TransformError{Reason: "missing store_id"}
	}
	occurredAt, err := time.Parse(time.RFC3339, payload.OccurredAt)
	if err != nil {
		return domain.Transaction{}, nil, &domain.TransformError{Reason: "unparseable occurred_at", Err: err}
	}
	if payload.TotalAmount < 0 {
		return domain.Transaction{}, nil, &domain.TransformError{Reason: "negative total_amount"}
	}
	for i, li := range payload.LineItems {
		if li.Quantity < 0 || li.UnitPrice < 0 || li.LineAmount < 0 {
			return domain.Transaction{}, nil, &domain.TransformError{Reason: fmt.Sprintf("negative amount on line %d", i+1)}
		}
	}

	now := uc.now().UTC()
	txn := domain.Transaction{
		TransactionID: payload.TransactionID,
		StoreID:       payload.StoreID,
		OccurredAt:    occurredAt.UTC(),
		TotalAmount:   payload.TotalAmount,
		Status:        domain.TxnStatusCleaned,
		ProcessedAt:   now,
	}
	items := make([]domain.LineItem, len(payload.LineItems))
	for i, li := range payload.LineItems {
		items[i] = domain.LineItem{
			TransactionID:  payload.TransactionID,
			LineSeq:        i + 1,
			RawProductText: li.ProductText,
			Quantity:       li.Quantity,
			UnitPrice:      li.UnitPrice,
			LineAmount:     li.LineAmount,
		}
	}
	return txn, items, nil
}

func (uc *TransformEventsUseCase) release(ctx context.Context, ev domain.RawEvent) {
	if err := uc.raw.ReleaseClaim(ctx, ev.IdempotencyKey); err != nil {
		// The lease timeout reclaims it eventually.
		uc.logger.Error("failed to release claim", "idempotency_key", ev.IdempotencyKey, "error", err)
	}
}

func (uc *TransformEventsUseCase) releaseAll(ctx context.Context, events []domain.RawEvent) {
	for _, ev := range events {
		uc.release(ctx, ev)
	}
}
