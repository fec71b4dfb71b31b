package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/retailops/posflow/internal/domain"
)

// refreshLockKey is the advisory lock ID shared by every pipeline instance.
// Session-scoped, so the lock must be taken and released on the same
// connection; lockConn pins that connection between the two calls.
const refreshLockKey = 74_219_035

// AggregateRepository is the gold layer: recomputable projections refreshed
// with compute-then-swap transactions, guarded by a Postgres advisory lock.
type AggregateRepository struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	lockConn *sql.Conn
}

// NewAggregateRepository creates a new PostgreSQL aggregate repository.
func NewAggregateRepository(db *sql.DB, logger *slog.Logger) *AggregateRepository {
	return &AggregateRepository{db: db, logger: logger}
}

// TryRefreshLock attempts the non-blocking cluster-wide refresh lock. False
// means another instance is mid-refresh and this cycle should be skipped.
func (r *AggregateRepository) TryRefreshLock(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockConn != nil {
		return false, nil
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, refreshLockKey).Scan(&locked); err != nil {
		conn.Close()
		return false, err
	}
	if !locked {
		conn.Close()
		return false, nil
	}

	r.lockConn = conn
	return true, nil
}

// ReleaseRefreshLock releases the advisory lock and returns its pinned
// connection to the pool. Closing the connection would release the lock on
// its own, but unlocking explicitly keeps the session reusable.
func (r *AggregateRepository) ReleaseRefreshLock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockConn == nil {
		return nil
	}
	conn := r.lockConn
	r.lockConn = nil

	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, refreshLockKey)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// RefreshStoreDaily rebuilds the per-store per-day projection from the
// silver store inside one transaction, so readers see either the previous
// snapshot or the new one, never a partial table.
func (r *AggregateRepository) RefreshStoreDaily(ctx context.Context) error {
	return r.swap(ctx, `DELETE FROM agg_store_daily`, `
		INSERT INTO agg_store_daily (day, store_id, txn_count, gross_revenue, avg_ticket)
		SELECT date_trunc('day', occurred_at)::date,
		       store_id,
		       COUNT(*),
		       COALESCE(SUM(total_amount), 0),
		       COALESCE(AVG(total_amount), 0)
		FROM transactions
		GROUP BY 1, 2`)
}

// RefreshProductDaily rebuilds the per-product per-day projection. Only
// resolved line items contribute; unresolved text has no product identity.
func (r *AggregateRepository) RefreshProductDaily(ctx context.Context) error {
	return r.swap(ctx, `DELETE FROM agg_product_daily`, `
		INSERT INTO agg_product_daily (day, product_id, units, revenue, line_count)
		SELECT date_trunc('day', t.occurred_at)::date,
		       li.resolved_product_id,
		       COALESCE(SUM(li.quantity), 0),
		       COALESCE(SUM(li.line_amount), 0),
		       COUNT(*)
		FROM line_items li
		JOIN transactions t ON t.transaction_id = li.transaction_id
		WHERE li.resolved_product_id IS NOT NULL
		GROUP BY 1, 2`)
}

// RefreshDailySummary rebuilds the network-wide rollup from agg_store_daily,
// which is why callers must refresh the store projection first.
func (r *AggregateRepository) RefreshDailySummary(ctx context.Context) error {
	return r.swap(ctx, `DELETE FROM agg_daily_summary`, `
		INSERT INTO agg_daily_summary (day, store_count, txn_count, gross_revenue)
		SELECT day, COUNT(DISTINCT store_id), COALESCE(SUM(txn_count), 0), COALESCE(SUM(gross_revenue), 0)
		FROM agg_store_daily
		GROUP BY day`)
}

func (r *AggregateRepository) swap(ctx context.Context, deleteStmt, insertStmt string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteStmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertStmt); err != nil {
		return err
	}
	return tx.Commit()
}

// State reads the single refresh_state row. A missing row means the
// aggregates have never been refreshed.
func (r *AggregateRepository) State(ctx context.Context) (domain.RefreshState, error) {
	var state domain.RefreshState
	err := r.db.QueryRowContext(ctx, `
		SELECT last_refreshed_at, watermark FROM refresh_state WHERE id = 1`,
	).Scan(&state.LastRefreshedAt, &state.Watermark)
	if err == sql.ErrNoRows {
		return domain.RefreshState{}, nil
	}
	if err != nil {
		return domain.RefreshState{}, err
	}
	return state, nil
}

// SetState upserts the single refresh_state row.
func (r *AggregateRepository) SetState(ctx context.Context, state domain.RefreshState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_state (id, last_refreshed_at, watermark)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET last_refreshed_at = $1, watermark = $2`,
		state.LastRefreshedAt, state.Watermark,
	)
	return err
}

// DailySummaries returns the newest N days of the network-wide rollup.
func (r *AggregateRepository) DailySummaries(ctx context.Context, days int) ([]domain.DailySummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, store_count, txn_count, gross_revenue
		FROM agg_daily_summary
		ORDER BY day DESC
		LIMIT $1`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var s domain.DailySummary
		if err := rows.Scan(&s.Day, &s.StoreCount, &s.TxnCount, &s.GrossRevenue); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StoreDaily returns the per-store aggregates for one day.
func (r *AggregateRepository) StoreDaily(ctx context.Context, day time.Time) ([]domain.StoreDailyAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, store_id, txn_count, gross_revenue, avg_ticket
		FROM agg_store_daily
		WHERE day = $1::date
		ORDER BY store_id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StoreDailyAggregate
	for rows.Next() {
		var a domain.StoreDailyAggregate
		if err := rows.Scan(&a.Day, &a.StoreID, &a.TxnCount, &a.GrossRevenue, &a.AvgTicket); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ProductDaily returns the per-product aggregates for one day.
func (r *AggregateRepository) ProductDaily(ctx context.Context, day time.Time) ([]domain.ProductDailyAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, product_id, units, revenue, line_count
		FROM agg_product_daily
		WHERE day = $1::date
		ORDER BY revenue DESC, product_id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProductDailyAggregate
	for rows.Next() {
		var a domain.ProductDailyAggregate
		if err := rows.Scan(&a.Day, &a.ProductID, &a.Units, &a.Revenue, &a.LineCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
