package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/domain/mocks"
)

func TestAggregateHandlerDailySummary(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	refreshed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	aggregates := &mocks.MockAggregateRepository{
		RefreshState: domain.RefreshState{LastRefreshedAt: refreshed, Watermark: refreshed},
		Summaries: []domain.DailySummary{
			{Day: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), StoreCount: 3, TxnCount: 120, GrossRevenue: 4512.75},
		},
	}
	h := NewAggregateHandler(aggregates, &mocks.MockAlertRepository{}, logger)

	req := httptest.NewRequest(http.MethodGet, "/aggregates/daily-summary?days=7", nil)
	rr := httptest.NewRecorder()
	h.DailySummary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp summaryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.LastRefreshedAt.Equal(refreshed) {
		t.Errorf("unexpected last_refreshed_at: got %v want %v", resp.LastRefreshedAt, refreshed)
	}
	if len(resp.Days) != 1 || resp.Days[0].TxnCount != 120 {
		t.Errorf("unexpected summaries: %+v", resp.Days)
	}
}

func TestAggregateHandlerDailySummaryBadDays(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAggregateHandler(&mocks.MockAggregateRepository{}, &mocks.MockAlertRepository{}, logger)

	for _, days := range []string{"0", "-3", "9999", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/aggregates/daily-summary?days="+days, nil)
		rr := httptest.NewRecorder()
		h.DailySummary(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("days=%s: expected 400, got %d", days, rr.Code)
		}
	}
}

func TestAggregateHandlerEmptyBodiesAreArrays(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAggregateHandler(&mocks.MockAggregateRepository{}, &mocks.MockAlertRepository{}, logger)

	req := httptest.NewRequest(http.MethodGet, "/aggregates/daily-summary", nil)
	rr := httptest.NewRecorder()
	h.DailySummary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(raw["days"]) != "[]" {
		t.Errorf("expected empty array for days, got %s", raw["days"])
	}
}

func TestAggregateHandlerStoreDaily(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	aggregates := &mocks.MockAggregateRepository{
		Stores: []domain.StoreDailyAggregate{
			{Day: day, StoreID: "store-1", TxnCount: 40, GrossRevenue: 900, AvgTicket: 22.5},
		},
	}
	h := NewAggregateHandler(aggregates, &mocks.MockAlertRepository{}, logger)

	req := httptest.NewRequest(http.MethodGet, "/aggregates/stores?day=2026-08-29", nil)
	rr := httptest.NewRecorder()
	h.StoreDaily(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp storeDailyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Day != "2026-08-29" {
		t.Errorf("unexpected day: %q", resp.Day)
	}
	if len(resp.Stores) != 1 || resp.Stores[0].StoreID != "store-1" {
		t.Errorf("unexpected stores: %+v", resp.Stores)
	}
}

func TestAggregateHandlerStoreDailyBadDay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAggregateHandler(&mocks.MockAggregateRepository{}, &mocks.MockAlertRepository{}, logger)

	req := httptest.NewRequest(http.MethodGet, "/aggregates/stores?day=29-08-2026", nil)
	rr := httptest.NewRecorder()
	h.StoreDaily(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAggregateHandlerRecentAlerts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := &mocks.MockAlertRepository{}
	alerts.InsertAlert(context.Background(), domain.QualityAlert{
		ID:         "a1",
		RuleName:   "line_sum_mismatch",
		Severity:   domain.SeverityWarning,
		DetectedAt: time.Now().UTC(),
		DedupKey:   "line_sum_mismatch:2026-08-30",
	})
	h := NewAggregateHandler(&mocks.MockAggregateRepository{}, alerts, logger)

	req := httptest.NewRequest(http.MethodGet, "/alerts/recent", nil)
	rr := httptest.NewRecorder()
	h.RecentAlerts(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp alertsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].RuleName != "line_sum_mismatch" {
		t.Errorf("unexpected alerts: %+v", resp.Alerts)
	}
}
