package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/adapter/repository/postgres"
	redisrepo "github.com/retailops/posflow/internal/adapter/repository/redis"
	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/monitor"
	"github.com/retailops/posflow/internal/pkg/config"
	"github.com/retailops/posflow/internal/pkg/logger"
	"github.com/retailops/posflow/internal/quality"
	"github.com/retailops/posflow/internal/usecase"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting pipeline worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("could not connect to redis, feed publishing will fail until it recovers", "error", err)
	} else {
		log.Info("connected to redis")
	}

	// Worker identity for claim leasing.
	workerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for worker name, using default", "error", err)
		workerName = "pipeline-default"
	}

	m := metrics.NewPipelineMetrics()

	// --- Rules (hot-reloaded) ---
	rules, err := config.NewRulesLoader(cfg.RulesPath)
	if err != nil {
		log.Error("failed to load rules", "error", err, "path", cfg.RulesPath)
		os.Exit(1)
	}
	stopWatch, err := rules.Watch()
	if err != nil {
		log.Warn("rules file watch unavailable, edits require a restart", "error", err)
	} else {
		defer stopWatch()
	}

	// --- Repositories ---
	rawEventRepo := postgres.NewRawEventRepository(db, log)
	txnRepo := postgres.NewTransactionRepository(db, log)
	catalogRepo := postgres.NewCatalogRepository(db, log)
	alertRepo := postgres.NewAlertRepository(db, log)
	monitorRepo := postgres.NewMonitorRepository(db, log)
	aggregateRepo := postgres.NewAggregateRepository(db, log)
	feedRepo := redisrepo.NewFeedRepository(redisClient, log, cfg.FeedStreamKey)

	// --- Units of work ---
	transform := usecase.NewTransformEventsUseCase(
		rawEventRepo, txnRepo, catalogRepo, rules, log, m,
		workerName, cfg.TransformBatchSize, cfg.ClaimLeaseTimeout,
	)
	refresh := usecase.NewRefreshAggregatesUseCase(aggregateRepo, txnRepo, log, m)
	gate := quality.NewGate(txnRepo, alertRepo, rules, log, m)
	engine := monitor.NewEngine(monitorRepo, feedRepo, log, m)

	// --- Admin and Metrics Server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("POST /admin/requeue-failed", requeueHandler(rawEventRepo, log))

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Processing Loops ---
	transformTicker := time.NewTicker(cfg.TransformInterval)
	defer transformTicker.Stop()
	refreshTicker := time.NewTicker(cfg.RefreshInterval)
	defer refreshTicker.Stop()
	monitorTicker := time.NewTicker(cfg.MonitorInterval)
	defer monitorTicker.Stop()

	log.Info("pipeline worker started", "worker", workerName)

Loop:
	for {
		select {
		case <-transformTicker.C:
			if _, _, err := transform.RunOnce(ctx); err != nil {
				log.Error("transform cycle failed", "error", err)
			}
			if err := gate.Run(ctx); err != nil {
				log.Error("quality gate run failed", "error", err)
			}
		case <-refreshTicker.C:
			if _, err := refresh.RunOnce(ctx); err != nil {
				log.Error("aggregate refresh failed", "error", err)
			}
		case <-monitorTicker.C:
			if err := engine.RunOnce(ctx); err != nil {
				log.Error("monitor run failed", "error", err)
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down pipeline loops")
			break Loop
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("pipeline worker shut down gracefully")
}

// requeueHandler exposes the manual reprocessing path for events that failed
// cleaning. The automatic loop never retries them; an operator posts the
// idempotency keys here after fixing the underlying payload issue.
func requeueHandler(repo domain.RawEventRepository, log *slog.Logger) http.HandlerFunc {
	type request struct {
		IdempotencyKeys []string `json:"idempotency_keys"`
	}
	type response struct {
		Requeued int64 `json:"requeued"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if len(req.IdempotencyKeys) == 0 {
			http.Error(w, "Bad Request: idempotency_keys required", http.StatusBadRequest)
			return
		}

		n, err := repo.RequeueFailed(r.Context(), req.IdempotencyKeys)
		if err != nil {
			log.Error("failed to requeue events", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		log.Info("requeued failed events", "requested", len(req.IdempotencyKeys), "requeued", n)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response{Requeued: n})
	}
}
