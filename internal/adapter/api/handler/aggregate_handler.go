package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/retailops/posflow/internal/domain"
)

const (
	defaultSummaryDays = 30
	maxSummaryDays     = 365
	defaultAlertWindow = 24 * time.Hour
)

// AggregateHandler serves the gold-layer read surface for the dashboard
// collaborator. Every response carries last_refreshed_at so consumers can
// detect staleness.
type AggregateHandler struct {
	aggregates domain.AggregateRepository
	alerts     domain.AlertRepository
	logger     *slog.Logger
}

// NewAggregateHandler creates a new AggregateHandler.
func NewAggregateHandler(aggregates domain.AggregateRepository, alerts domain.AlertRepository, logger *slog.Logger) *AggregateHandler {
	return &AggregateHandler{
		aggregates: aggregates,
		alerts:     alerts,
		logger:     logger,
	}
}

type summaryResponse struct {
	LastRefreshedAt time.Time            `json:"last_refreshed_at"`
	Days            []domain.DailySummary `json:"days"`
}

// DailySummary handles GET /aggregates/daily-summary.
func (h *AggregateHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	days := defaultSummaryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSummaryDays {
			writeError(w, http.StatusBadRequest, "validation_error", "days must be an integer between 1 and 365")
			return
		}
		days = n
	}

	state, err := h.aggregates.State(r.Context())
	if err != nil {
		h.logger.Error("failed to read refresh state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}

	summaries, err := h.aggregates.DailySummaries(r.Context(), days)
	if err != nil {
		h.logger.Error("failed to read daily summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}
	if summaries == nil {
		summaries = []domain.DailySummary{}
	}

	writeJSON(w, http.StatusOK, summaryResponse{LastRefreshedAt: state.LastRefreshedAt, Days: summaries})
}

type storeDailyResponse struct {
	LastRefreshedAt time.Time                    `json:"last_refreshed_at"`
	Day             string                       `json:"day"`
	Stores          []domain.StoreDailyAggregate `json:"stores"`
}

// StoreDaily handles GET /aggregates/stores.
func (h *AggregateHandler) StoreDaily(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}

	state, err := h.aggregates.State(r.Context())
	if err != nil {
		h.logger.Error("failed to read refresh state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}

	stores, err := h.aggregates.StoreDaily(r.Context(), day)
	if err != nil {
		h.logger.Error("failed to read store aggregates", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}
	if stores == nil {
		stores = []domain.StoreDailyAggregate{}
	}

	writeJSON(w, http.StatusOK, storeDailyResponse{
		LastRefreshedAt: state.LastRefreshedAt,
		Day:             day.Format("2006-01-02"),
		Stores:          stores,
	})
}

type productDailyResponse struct {
	LastRefreshedAt time.Time                      `json:"last_refreshed_at"`
	Day             string                         `json:"day"`
	Products        []domain.ProductDailyAggregate `json:"products"`
}

// ProductDaily handles GET /aggregates/products.
func (h *AggregateHandler) ProductDaily(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}

	state, err := h.aggregates.State(r.Context())
	if err != nil {
		h.logger.Error("failed to read refresh state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}

	products, err := h.aggregates.ProductDaily(r.Context(), day)
	if err != nil {
		h.logger.Error("failed to read product aggregates", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read aggregates")
		return
	}
	if products == nil {
		products = []domain.ProductDailyAggregate{}
	}

	writeJSON(w, http.StatusOK, productDailyResponse{
		LastRefreshedAt: state.LastRefreshedAt,
		Day:             day.Format("2006-01-02"),
		Products:        products,
	})
}

type alertsResponse struct {
	Since  time.Time            `json:"since"`
	Alerts []domain.QualityAlert `json:"alerts"`
}

// RecentAlerts handles GET /alerts/recent.
func (h *AggregateHandler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-defaultAlertWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}

	alerts, err := h.alerts.RecentAlerts(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to read recent alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.QualityAlert{}
	}

	writeJSON(w, http.StatusOK, alertsResponse{Since: since, Alerts: alerts})
}

// dayParam parses the day query parameter, defaulting to today in UTC.
func (h *AggregateHandler) dayParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("day")
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "day must be formatted YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}
