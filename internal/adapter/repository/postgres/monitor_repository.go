package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/retailops/posflow/internal/domain"
)

// MonitorRepository backs the monitor engine: operator-configured monitor
// definitions, windowed stats over the silver store, and the append-only
// agent action ledger.
type MonitorRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMonitorRepository creates a new PostgreSQL monitor repository.
func NewMonitorRepository(db *sql.DB, logger *slog.Logger) *MonitorRepository {
	return &MonitorRepository{db: db, logger: logger}
}

// EnabledDefinitions returns all enabled monitors. Read fresh every engine
// run so operator edits through the admin tool take effect immediately.
func (r *MonitorRepository) EnabledDefinitions(ctx context.Context) ([]domain.MonitorDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, window_minutes, predicate, cooldown_minutes, proposed_action, action_confidence, is_enabled
		FROM monitor_definitions
		WHERE is_enabled
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MonitorDefinition
	for rows.Next() {
		var d domain.MonitorDefinition
		if err := rows.Scan(&d.Name, &d.WindowMinutes, &d.Predicate, &d.CooldownMinutes, &d.ProposedAction, &d.ActionConfidence, &d.IsEnabled); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// WindowStats computes the trailing-window aggregate picture monitors are
// evaluated against.
func (r *MonitorRepository) WindowStats(ctx context.Context, window time.Duration) (domain.WindowStats, error) {
	to := time.Now().UTC()
	stats := domain.WindowStats{
		From:          to.Add(-window),
		To:            to,
		WindowMinutes: int(window / time.Minute),
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_amount), 0),
		       COALESCE(AVG(total_amount), 0),
		       COALESCE(MAX(total_amount), 0),
		       COUNT(DISTINCT store_id),
		       COUNT(*) FILTER (WHERE cardinality(quality_flags) > 0)
		FROM transactions
		WHERE processed_at >= $1`,
		stats.From,
	).Scan(&stats.TxnCount, &stats.GrossRevenue, &stats.AvgTicket, &stats.MaxTxnAmount, &stats.StoreCount, &stats.FlaggedCount)
	if err != nil {
		return domain.WindowStats{}, err
	}

	var total, unresolved int64
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE li.resolved_product_id IS NULL)
		FROM line_items li
		JOIN transactions t ON t.transaction_id = li.transaction_id
		WHERE t.processed_at >= $1`,
		stats.From,
	).Scan(&total, &unresolved)
	if err != nil {
		return domain.WindowStats{}, err
	}
	if total > 0 {
		stats.UnresolvedRate = float64(unresolved) / float64(total)
	}

	return stats, nil
}

// InsertAction appends to the agent action ledger; the dedup key conflict
// is the cooldown mechanism.
func (r *MonitorRepository) InsertAction(ctx context.Context, action domain.AgentAction) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_actions (id, monitor_name, triggered_at, evidence, proposed_action, confidence, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedup_key) DO NOTHING`,
		action.ID, action.MonitorName, action.TriggeredAt, []byte(action.Evidence), action.ProposedAction, action.Confidence, action.DedupKey,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
