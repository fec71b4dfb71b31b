package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/domain"
)

const defaultCooldownMinutes = 1440 // one trigger per monitor per day

// Engine evaluates operator-defined anomaly monitors against windowed
// pipeline stats. A trigger appends an immutable agent action to the ledger
// and pushes it to the feed; the ledger's dedup key enforces the cooldown.
type Engine struct {
	repo    domain.MonitorRepository
	feed    domain.FeedPublisher
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Predicate // predicate text -> parsed form
}

// NewEngine creates a monitor engine. feed may be nil when no push channel
// is configured; the ledger row is still written.
func NewEngine(repo domain.MonitorRepository, feed domain.FeedPublisher, logger *slog.Logger, m *metrics.PipelineMetrics) *Engine {
	return &Engine{
		repo:    repo,
		feed:    feed,
		logger:  logger.With("component", "monitor_engine"),
		metrics: m,
		now:     time.Now,
		cache:   make(map[string]Predicate),
	}
}

// RunOnce loads all enabled monitor definitions and evaluates each one. A
// single monitor failing to parse or evaluate never prevents the others
// from running.
func (e *Engine) RunOnce(ctx context.Context) error {
	defs, err := e.repo.EnabledDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load monitor definitions: %w", err)
	}

	for _, def := range defs {
		if err := e.evaluate(ctx, def); err != nil {
			if e.metrics != nil {
				e.metrics.MonitorEvalErrors.Inc()
			}
			e.logger.Error("monitor evaluation failed", "monitor", def.Name, "error", err)
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, def domain.MonitorDefinition) error {
	pred, err := e.parse(def.Predicate)
	if err != nil {
		return fmt.Errorf("parse predicate: %w", err)
	}

	window := time.Duration(def.WindowMinutes) * time.Minute
	stats, err := e.repo.WindowStats(ctx, window)
	if err != nil {
		return fmt.Errorf("window stats: %w", err)
	}

	triggered, err := Eval(pred, &stats)
	if err != nil {
		return fmt.Errorf("evaluate predicate: %w", err)
	}
	if !triggered {
		return nil
	}

	now := e.now().UTC()
	action := domain.AgentAction{
		ID:             uuid.NewString(),
		MonitorName:    def.Name,
		TriggeredAt:    now,
		ProposedAction: def.ProposedAction,
		Confidence:     def.ActionConfidence,
		DedupKey:       dedupKey(def, now),
	}
	action.Evidence, err = json.Marshal(struct {
		Predicate string             `json:"predicate"`
		Stats     domain.WindowStats `json:"stats"`
	}{Predicate: def.Predicate, Stats: stats})
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	inserted, err := e.repo.InsertAction(ctx, action)
	if err != nil {
		return fmt.Errorf("insert agent action: %w", err)
	}
	if !inserted {
		// Still within the cooldown for this condition.
		e.logger.Debug("monitor trigger deduplicated", "monitor", def.Name, "dedup_key", action.DedupKey)
		return nil
	}

	if e.metrics != nil {
		e.metrics.MonitorTriggers.WithLabelValues(def.Name).Inc()
	}
	e.logger.Warn("monitor triggered", "monitor", def.Name, "dedup_key", action.DedupKey, "proposed_action", def.ProposedAction)

	if e.feed != nil {
		if err := e.feed.Publish(ctx, action); err != nil {
			// The ledger row is the source of truth; a feed outage must not
			// fail the engine run.
			if e.metrics != nil {
				e.metrics.FeedPublishErrors.Inc()
			}
			e.logger.Error("failed to publish agent action to feed", "monitor", def.Name, "error", err)
		}
	}
	return nil
}

func (e *Engine) parse(predicate string) (Predicate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[predicate]; ok {
		return p, nil
	}
	p, err := Parse(predicate)
	if err != nil {
		return nil, err
	}
	e.cache[predicate] = p
	return p, nil
}

// dedupKey truncates the trigger time into the monitor's cooldown bucket so
// the same condition re-alerts at most once per cooldown period.
func dedupKey(def domain.MonitorDefinition, at time.Time) string {
	cooldown := time.Duration(def.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = defaultCooldownMinutes * time.Minute
	}
	return fmt.Sprintf("%s@%s", def.Name, at.Truncate(cooldown).Format(time.RFC3339))
}
