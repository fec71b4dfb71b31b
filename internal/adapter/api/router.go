package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/retailops/posflow/internal/adapter/api/handler"
	"github.com/retailops/posflow/internal/adapter/api/middleware"
	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/pkg/config"
	"github.com/retailops/posflow/internal/usecase"
)

// NewRouter creates and configures the main HTTP router for the gateway.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	apiKeyRepo domain.APIKeyRepository,
	aggregates domain.AggregateRepository,
	alerts domain.AlertRepository,
	ingestUseCase *usecase.IngestTransactionUseCase,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))

	ingestHandler := handler.NewIngestHandler(ingestUseCase, logger, cfg.MaxPayloadSize)
	aggregateHandler := handler.NewAggregateHandler(aggregates, alerts, logger)

	auth := middleware.Auth(apiKeyRepo, logger)
	rateLimit := middleware.RateLimit(cfg.IngestRatePerKey, cfg.IngestBurst, logger)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(auth)
		r.Method(http.MethodPost, "/ingest", ingestHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/aggregates/daily-summary", aggregateHandler.DailySummary)
		r.Get("/aggregates/stores", aggregateHandler.StoreDaily)
		r.Get("/aggregates/products", aggregateHandler.ProductDaily)
		r.Get("/alerts/recent", aggregateHandler.RecentAlerts)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
