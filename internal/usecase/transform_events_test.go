package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/domain/mocks"
	"github.com/retailops/posflow/internal/pkg/config"
)

func defaultRulesLoader(t *testing.T) *config.RulesLoader {
	t.Helper()
	l, err := config.NewRulesLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func rawEventFor(t *testing.T, payload domain.TransactionPayload) domain.RawEvent {
	t.Helper()
	body, err := json.Marshal(&payload)
	if err != nil {
		t.Fatal(err)
	}
	return domain.RawEvent{
		IdempotencyKey: IdempotencyKey(payload.TransactionID, body),
		Payload:        body,
		ReceivedAt:     time.Now().UTC(),
	}
}

func newTransform(raw *mocks.MockRawEventRepository, txns *mocks.MockTransactionRepository, catalog *mocks.MockCatalogRepository, rules *config.RulesLoader) *TransformEventsUseCase {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTransformEventsUseCase(raw, txns, catalog, rules, logger, nil, "worker-test", 100, 10*time.Minute)
}

func TestTransformEventsUseCase_RunOnce(t *testing.T) {
	catalog := &mocks.MockCatalogRepository{
		Entries: []domain.ProductCatalogEntry{
			{ProductID: "p-cola-1l", CanonicalName: "Cola Classic 1L", MatchCount: 10},
			{ProductID: "p-soap-135", CanonicalName: "Pure White Soap 135g", Aliases: []string{"pure soap"}},
		},
	}

	t.Run("Cleans Valid Event And Resolves Items", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		ev := rawEventFor(t, *validPayload())
		raw.ClaimResult = []domain.RawEvent{ev}

		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
		cleaned, failed, err := uc.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cleaned != 1 || failed != 0 {
			t.Errorf("expected 1 cleaned / 0 failed, got %d / %d", cleaned, failed)
		}
		if len(txns.Transactions) != 1 {
			t.Fatalf("expected 1 transaction, got %d", len(txns.Transactions))
		}
		if len(txns.LineItems) != 2 {
			t.Fatalf("expected 2 line items, got %d", len(txns.LineItems))
		}
		// "Cola Classic 1L" is an exact canonical match; "pure soap" an alias.
		for _, li := range txns.LineItems {
			if !li.Resolved() {
				t.Errorf("expected line %d (%q) resolved", li.LineSeq, li.RawProductText)
			}
		}
		if li := txns.LineItems[0]; *li.ResolutionConfidence != 1.0 {
			t.Errorf("expected exact-match confidence 1.0, got %v", *li.ResolutionConfidence)
		}
		if annotation, ok := raw.Marked[ev.IdempotencyKey]; !ok || annotation != "" {
			t.Errorf("expected event marked processed without error, got %q (present=%v)", annotation, ok)
		}
		if len(catalog.Incremented) != 2 {
			t.Errorf("expected 2 match-count increments, got %d", len(catalog.Incremented))
		}
	})

	t.Run("Unmatched Product Stays Unresolved", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		p := validPayload()
		p.LineItems = []domain.LineItemPayload{
			{ProductText: "mystery item xyz", Quantity: 1, UnitPrice: 100, LineAmount: 100},
		}
		raw.ClaimResult = []domain.RawEvent{rawEventFor(t, *p)}

		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
		if _, _, err := uc.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(txns.LineItems) != 1 {
			t.Fatal("expected the line item to be written")
		}
		if txns.LineItems[0].Resolved() {
			t.Error("expected no resolution for unknown product text")
		}
		if txns.LineItems[0].ResolutionConfidence != nil {
			t.Error("expected nil confidence for unresolved line")
		}
	})

	t.Run("Invalid Event Is Marked Failed Not Retried", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		p := validPayload()
		p.StoreID = ""
		ev := rawEventFor(t, *p)
		raw.ClaimResult = []domain.RawEvent{ev}

		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
		cleaned, failed, err := uc.RunOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cleaned != 0 || failed != 1 {
			t.Errorf("expected 0 cleaned / 1 failed, got %d / %d", cleaned, failed)
		}
		annotation := raw.Marked[ev.IdempotencyKey]
		if annotation == "" {
			t.Fatal("expected a process error annotation")
		}
		if len(txns.Transactions) != 0 {
			t.Error("invalid events must not reach the silver store")
		}
	})

	t.Run("Partial Batch Failure Does Not Affect Siblings", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		bad := validPayload()
		bad.TransactionID = "txn-bad"
		bad.OccurredAt = "not-a-timestamp"
		raw.ClaimResult = []domain.RawEvent{rawEventFor(t, *bad), rawEventFor(t, *validPayload())}

		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
		cleaned, failed, err := uc.RunOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cleaned != 1 || failed != 1 {
			t.Errorf("expected 1 cleaned / 1 failed, got %d / %d", cleaned, failed)
		}
		if len(txns.Transactions) != 1 {
			t.Errorf("expected the valid sibling written, got %d transactions", len(txns.Transactions))
		}
	})

	t.Run("Silver Write Failure Releases The Claim", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		txns.CreateErr = errors.New("connection reset")
		ev := rawEventFor(t, *validPayload())
		raw.ClaimResult = []domain.RawEvent{ev}

		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
		cleaned, failed, err := uc.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("transient failures are retried, not batch errors: %v", err)
		}
		if cleaned != 0 || failed != 0 {
			t.Errorf("expected 0 cleaned / 0 failed, got %d / %d", cleaned, failed)
		}
		if len(raw.Released) != 1 || raw.Released[0] != ev.IdempotencyKey {
			t.Errorf("expected the claim released, got %v", raw.Released)
		}
		if _, marked := raw.Marked[ev.IdempotencyKey]; marked {
			t.Error("a released event must not be marked processed")
		}
	})

	t.Run("Catalog Outage Releases The Whole Batch", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		broken := &mocks.MockCatalogRepository{SnapshotErr: errors.New("catalog unavailable")}
		raw.ClaimResult = []domain.RawEvent{rawEventFor(t, *validPayload())}

		uc := newTransform(raw, txns, broken, defaultRulesLoader(t))
		if _, _, err := uc.RunOnce(context.Background()); err == nil {
			t.Fatal("expected an error when the catalog snapshot fails")
		}
		if len(raw.Released) != 1 {
			t.Errorf("expected 1 released claim, got %d", len(raw.Released))
		}
	})

	t.Run("Empty Batch Is A NoOp", func(t *testing.T) {
		raw := mocks.NewMockRawEventRepository()
		txns := mocks.NewMockTransactionRepository()
		uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))

		cleaned, failed, err := uc.RunOnce(context.Background())
		if err != nil || cleaned != 0 || failed != 0 {
			t.Errorf("expected clean no-op, got %d/%d/%v", cleaned, failed, err)
		}
	})
}

func TestTransformEventsUseCase_ManualRequeue(t *testing.T) {
	catalog := &mocks.MockCatalogRepository{}
	raw := mocks.NewMockRawEventRepository()
	txns := mocks.NewMockTransactionRepository()

	p := validPayload()
	p.OccurredAt = "garbage"
	ev := rawEventFor(t, *p)
	if _, err := raw.Insert(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	uc := newTransform(raw, txns, catalog, defaultRulesLoader(t))
	if _, failed, _ := uc.RunOnce(context.Background()); failed != 1 {
		t.Fatalf("expected the event to fail cleaning, failed=%d", failed)
	}

	// The automatic loop never picks it up again.
	if cleaned, failed, _ := uc.RunOnce(context.Background()); cleaned != 0 || failed != 0 {
		t.Errorf("failed events must not be retried automatically, got %d/%d", cleaned, failed)
	}

	// After a manual requeue the next run processes it again.
	n, err := raw.RequeueFailed(context.Background(), []string{ev.IdempotencyKey})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 requeued event, got %d (%v)", n, err)
	}
	if _, failed, _ := uc.RunOnce(context.Background()); failed != 1 {
		t.Errorf("expected the requeued event to be processed again, failed=%d", failed)
	}
}
