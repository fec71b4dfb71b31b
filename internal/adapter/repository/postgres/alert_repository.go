package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/retailops/posflow/internal/domain"
)

// AlertRepository stores quality alerts on PostgreSQL. The unique dedup_key
// column is what caps alert volume: insertion simply no-ops on conflict.
type AlertRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAlertRepository creates a new PostgreSQL alert repository.
func NewAlertRepository(db *sql.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

// InsertAlert appends an alert unless its dedup key already exists.
func (r *AlertRepository) InsertAlert(ctx context.Context, alert domain.QualityAlert) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO quality_alerts (id, rule_name, severity, detected_at, details, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO NOTHING`,
		alert.ID, alert.RuleName, alert.Severity, alert.DetectedAt, alert.Details, alert.DedupKey,
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

// RecentAlerts returns alerts detected at or after the given time, newest
// first, for the ticketing collaborator to poll.
func (r *AlertRepository) RecentAlerts(ctx context.Context, since time.Time) ([]domain.QualityAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_name, severity, detected_at, details, dedup_key
		FROM quality_alerts
		WHERE detected_at >= $1
		ORDER BY detected_at DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QualityAlert
	for rows.Next() {
		var a domain.QualityAlert
		if err := rows.Scan(&a.ID, &a.RuleName, &a.Severity, &a.DetectedAt, &a.Details, &a.DedupKey); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
