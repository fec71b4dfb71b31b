package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/domain/mocks"
	"github.com/retailops/posflow/internal/pkg/config"
	"github.com/retailops/posflow/internal/quality"
	"github.com/retailops/posflow/internal/usecase"
)

// TestPipelineFlow runs the full in-process path over in-memory stores:
// submit raw transactions, transform them into cleaned rows with resolved
// products, and run the quality gate over the result.
func TestPipelineFlow(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rules, err := config.NewRulesLoader(filepath.Join(t.TempDir(), "rules.yaml"))
	if err != nil {
		t.Fatalf("failed to build rules loader: %v", err)
	}

	raw := mocks.NewMockRawEventRepository()
	txns := mocks.NewMockTransactionRepository()
	catalog := &mocks.MockCatalogRepository{
		Entries: []domain.ProductCatalogEntry{
			{ProductID: "p-cola", CanonicalName: "Cola Classic 1L", Aliases: []string{"cola 1l"}},
			{ProductID: "p-soap", CanonicalName: "Pure Soap Bar", Aliases: []string{"pure soap"}},
		},
	}
	alerts := &mocks.MockAlertRepository{}

	ingest := usecase.NewIngestTransactionUseCase(raw, logger, nil)
	transform := usecase.NewTransformEventsUseCase(raw, txns, catalog, rules, logger, nil, "it-worker", 100, 10*time.Minute)
	gate := quality.NewGate(txns, alerts, rules, logger, nil)

	occurred := time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339)

	// Consistent transaction: line amounts sum to the reported total.
	clean := &domain.TransactionPayload{
		TransactionID: "txn-flow-1",
		StoreID:       "store-1",
		OccurredAt:    occurred,
		TotalAmount:   100,
		LineItems: []domain.LineItemPayload{
			{ProductText: "Cola Classic 1L", Quantity: 4, UnitPrice: 15, LineAmount: 60},
			{ProductText: "pure soap", Quantity: 2, UnitPrice: 20, LineAmount: 40},
		},
	}
	// Inconsistent transaction: lines sum to 80 against a total of 100.
	mismatched := &domain.TransactionPayload{
		TransactionID: "txn-flow-2",
		StoreID:       "store-2",
		OccurredAt:    occurred,
		TotalAmount:   100,
		LineItems: []domain.LineItemPayload{
			{ProductText: "Cola Classic 1L", Quantity: 4, UnitPrice: 20, LineAmount: 80},
		},
	}

	for _, payload := range []*domain.TransactionPayload{clean, mismatched} {
		result, err := ingest.Ingest(ctx, payload)
		if err != nil {
			t.Fatalf("ingest %s failed: %v", payload.TransactionID, err)
		}
		if result.Duplicate {
			t.Fatalf("first submission of %s reported as duplicate", payload.TransactionID)
		}
	}

	// Resubmitting collapses onto the existing raw row.
	dup, err := ingest.Ingest(ctx, clean)
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if !dup.Duplicate {
		t.Error("resubmission not reported as duplicate")
	}

	cleaned, failed, err := transform.RunOnce(ctx)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if cleaned != 2 || failed != 0 {
		t.Fatalf("expected 2 cleaned and 0 failed, got %d and %d", cleaned, failed)
	}
	if len(txns.Transactions) != 2 {
		t.Fatalf("expected 2 silver transactions, got %d", len(txns.Transactions))
	}
	for _, li := range txns.LineItems {
		if !li.Resolved() {
			t.Errorf("line item %q not resolved", li.RawProductText)
		}
	}

	// The gate flags the mismatched transaction and raises one alert; the
	// consistent one stays unflagged. Both remain in the silver store.
	if err := gate.Run(ctx); err != nil {
		t.Fatalf("quality gate failed: %v", err)
	}

	if len(alerts.Alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts.Alerts))
	}
	if alerts.Alerts[0].RuleName != quality.RuleLineSumMismatch {
		t.Errorf("unexpected alert rule: %q", alerts.Alerts[0].RuleName)
	}
	if flags := txns.Flags["txn-flow-2"]; len(flags) != 1 || flags[0] != quality.RuleLineSumMismatch {
		t.Errorf("mismatched transaction flags: %v", flags)
	}
	if flags := txns.Flags["txn-flow-1"]; len(flags) != 0 {
		t.Errorf("clean transaction unexpectedly flagged: %v", flags)
	}

	// A second gate run over the same window raises nothing new.
	if err := gate.Run(ctx); err != nil {
		t.Fatalf("second quality gate run failed: %v", err)
	}
	if len(alerts.Alerts) != 1 {
		t.Errorf("alert not deduplicated across runs: got %d", len(alerts.Alerts))
	}

	// Nothing is left claimable after a successful transform.
	batch, err := raw.ClaimBatch(ctx, "it-worker", 100, 10*time.Minute)
	if err != nil {
		t.Fatalf("claim after transform failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected no claimable events, got %d", len(batch))
	}
}
