package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/domain"
)

// IngestResult is the gateway response contract.
type IngestResult struct {
	IdempotencyKey string
	Duplicate      bool
}

// IngestTransactionUseCase stages a submitted transaction in the raw store.
// No business validation happens here: this layer guarantees durability and
// dedup only. Duplicate submissions are accepted and collapse onto the
// existing row.
type IngestTransactionUseCase struct {
	raw     domain.RawEventRepository
	logger  *slog.Logger
	metrics *metrics.GatewayMetrics
}

// NewIngestTransactionUseCase creates a new IngestTransactionUseCase.
func NewIngestTransactionUseCase(raw domain.RawEventRepository, logger *slog.Logger, m *metrics.GatewayMetrics) *IngestTransactionUseCase {
	return &IngestTransactionUseCase{
		raw:     raw,
		logger:  logger,
		metrics: m,
	}
}

// Ingest validates payload shape, computes the idempotency key, and upserts
// a RawEvent. Malformed payloads return a domain.ValidationError and are
// never persisted.
func (uc *IngestTransactionUseCase) Ingest(ctx context.Context, payload *domain.TransactionPayload) (IngestResult, error) {
	if payload.TransactionID == "" {
		return IngestResult{}, &domain.ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if len(payload.LineItems) == 0 {
		return IngestResult{}, &domain.ValidationError{Field: "line_items", Reason: "at least one line item required"}
	}

	// Re-marshal so the content hash is stable against whitespace and field
	// ordering in the submitted JSON.
	canonical, err := json.Marshal(payload)
	if err != nil {
		return IngestResult{}, fmt.Errorf("canonicalize payload: %w", err)
	}
	key := IdempotencyKey(payload.TransactionID, canonical)

	inserted, err := uc.raw.Insert(ctx, domain.RawEvent{
		IdempotencyKey: key,
		Payload:        canonical,
		ReceivedAt:     time.Now().UTC(),
	})
	if err != nil {
		uc.logger.Error("failed to stage raw event", "error", err, "idempotency_key", key)
		return IngestResult{}, err
	}

	if uc.metrics != nil {
		if inserted {
			uc.metrics.EventsTotal.WithLabelValues("accepted").Inc()
			uc.metrics.BytesTotal.Add(float64(len(canonical)))
		} else {
			uc.metrics.EventsTotal.WithLabelValues("duplicate").Inc()
		}
	}

	return IngestResult{IdempotencyKey: key, Duplicate: !inserted}, nil
}

// IdempotencyKey derives the raw-store key from the source-assigned
// transaction id and the canonical payload bytes.
func IdempotencyKey(transactionID string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(transactionID))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
