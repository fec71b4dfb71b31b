// Package quality runs sanity rules over newly-cleaned transactions. Alerts
// are advisory: they never block or roll back ingestion, and one failing
// rule never prevents the others from running.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/posflow/internal/adapter/metrics"
	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/pkg/config"
)

// Rule names double as quality-flag annotations on transactions.
const (
	RuleNegativeOrExcessiveAmount = "negative_or_excessive_amount"
	RuleLineSumMismatch           = "line_sum_mismatch"
	RuleLowResolutionCoverage     = "low_resolution_coverage"
)

// Gate evaluates the quality rules after each transform batch.
type Gate struct {
	txns    domain.TransactionRepository
	alerts  domain.AlertRepository
	rules   *config.RulesLoader
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

// NewGate creates a quality gate. Thresholds come from the hot-reloadable
// rule config, re-read on every run.
func NewGate(txns domain.TransactionRepository, alerts domain.AlertRepository, rules *config.RulesLoader, logger *slog.Logger, m *metrics.PipelineMetrics) *Gate {
	return &Gate{
		txns:    txns,
		alerts:  alerts,
		rules:   rules,
		logger:  logger.With("component", "quality_gate"),
		metrics: m,
		now:     time.Now,
	}
}

// Run evaluates all rules over the trailing coverage window. Each rule is
// independent; an error in one is logged and the rest still run.
func (g *Gate) Run(ctx context.Context) error {
	cfg := g.rules.Rules()
	window := time.Duration(cfg.Quality.CoverageWindowMinutes) * time.Minute
	since := g.now().Add(-window)

	txns, err := g.txns.CleanedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load recent transactions: %w", err)
	}
	items, err := g.txns.LineItemsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load recent line items: %w", err)
	}

	if err := g.checkAmountBounds(ctx, cfg, txns); err != nil {
		g.logger.Error("amount bounds rule failed", "error", err)
	}
	if err := g.checkLineSums(ctx, cfg, txns, items); err != nil {
		g.logger.Error("line sum rule failed", "error", err)
	}
	if err := g.checkResolutionCoverage(ctx, cfg, items); err != nil {
		g.logger.Error("resolution coverage rule failed", "error", err)
	}
	return nil
}

func (g *Gate) checkAmountBounds(ctx context.Context, cfg *config.RuleConfig, txns []domain.Transaction) error {
	var offenders []string
	for _, t := range txns {
		if t.TotalAmount < 0 || t.TotalAmount > cfg.Quality.AmountCeiling {
			offenders = append(offenders, t.TransactionID)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	details := fmt.Sprintf("%d transaction(s) outside [0, %.2f], e.g. %s",
		len(offenders), cfg.Quality.AmountCeiling, offenders[0])
	return g.raise(ctx, RuleNegativeOrExcessiveAmount, domain.SeverityCritical, details, offenders)
}

func (g *Gate) checkLineSums(ctx context.Context, cfg *config.RuleConfig, txns []domain.Transaction, items []domain.LineItem) error {
	sums := make(map[string]float64)
	for _, li := range items {
		sums[li.TransactionID] += li.LineAmount
	}

	var offenders []string
	for _, t := range txns {
		if t.TotalAmount == 0 {
			// Relative tolerance is undefined: flag only when lines are non-zero.
			if math.Abs(sums[t.TransactionID]) > 1e-9 {
				offenders = append(offenders, t.TransactionID)
			}
			continue
		}
		rel := math.Abs(sums[t.TransactionID]-t.TotalAmount) / math.Abs(t.TotalAmount)
		if rel > cfg.Quality.LineSumTolerance {
			offenders = append(offenders, t.TransactionID)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	details := fmt.Sprintf("%d transaction(s) with line sums off by more than %.2f%%, e.g. %s",
		len(offenders), cfg.Quality.LineSumTolerance*100, offenders[0])
	return g.raise(ctx, RuleLineSumMismatch, domain.SeverityWarning, details, offenders)
}

func (g *Gate) checkResolutionCoverage(ctx context.Context, cfg *config.RuleConfig, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	var unresolved int
	for _, li := range items {
		if !li.Resolved() {
			unresolved++
		}
	}
	rate := float64(unresolved) / float64(len(items))
	if rate <= cfg.Quality.MaxUnresolvedRate {
		return nil
	}
	details := fmt.Sprintf("unresolved line-item rate %.2f exceeds %.2f over trailing %dm (%d of %d)",
		rate, cfg.Quality.MaxUnresolvedRate, cfg.Quality.CoverageWindowMinutes, unresolved, len(items))
	// A coverage problem is a window-level condition, not tied to single
	// transactions, so no per-transaction flags here.
	return g.raise(ctx, RuleLowResolutionCoverage, domain.SeverityWarning, details, nil)
}

// raise writes one deduplicated alert per rule per day and annotates the
// offending transactions.
func (g *Gate) raise(ctx context.Context, rule, severity, details string, offenders []string) error {
	now := g.now().UTC()
	alert := domain.QualityAlert{
		ID:         uuid.NewString(),
		RuleName:   rule,
		Severity:   severity,
		DetectedAt: now,
		Details:    details,
		DedupKey:   domain.AlertDedupKey(rule, now),
	}

	inserted, err := g.alerts.InsertAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if inserted {
		if g.metrics != nil {
			g.metrics.QualityAlerts.WithLabelValues(rule).Inc()
		}
		g.logger.Warn("quality alert raised", "rule", rule, "severity", severity, "details", details)
	}

	for _, id := range offenders {
		if err := g.txns.AppendQualityFlag(ctx, id, rule); err != nil {
			g.logger.Error("failed to flag transaction", "transaction_id", id, "rule", rule, "error", err)
		}
	}
	return nil
}
