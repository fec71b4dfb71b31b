package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/retailops/posflow/internal/domain"
)

// TransactionRepository implements the silver store on PostgreSQL.
type TransactionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *sql.DB, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

// CreateWithLineItems writes a transaction and its line items atomically.
// The upsert on transaction_id makes re-running a reclaimed raw event
// converge instead of failing: line items are replaced wholesale so a
// partial earlier attempt leaves no orphans.
func (r *TransactionRepository) CreateWithLineItems(ctx context.Context, txn domain.Transaction, items []domain.LineItem) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback() // no-op after Commit

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, store_id, occurred_at, total_amount, status, quality_flags, processed_at)
		VALUES ($1, $2, $3, $4, $5, '{}', $6)
		ON CONFLICT (transaction_id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			occurred_at = EXCLUDED.occurred_at,
			total_amount = EXCLUDED.total_amount,
			status = EXCLUDED.status,
			processed_at = EXCLUDED.processed_at`,
		txn.TransactionID, txn.StoreID, txn.OccurredAt, txn.TotalAmount, txn.Status, txn.ProcessedAt,
	)
	if err != nil {
		return err
	}

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM line_items WHERE transaction_id = $1`, txn.TransactionID); err != nil {
		return err
	}

	stmt, err := dbtx.PrepareContext(ctx, `
		INSERT INTO line_items (transaction_id, line_seq, raw_product_text, resolved_product_id, resolution_confidence, quantity, unit_price, line_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, li := range items {
		_, err := stmt.ExecContext(ctx,
			li.TransactionID, li.LineSeq, li.RawProductText,
			li.ResolvedProductID, li.ResolutionConfidence,
			li.Quantity, li.UnitPrice, li.LineAmount,
		)
		if err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// CleanedSince returns transactions processed at or after the given time.
func (r *TransactionRepository) CleanedSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_id, store_id, occurred_at, total_amount, status, quality_flags, processed_at
		FROM transactions
		WHERE processed_at >= $1
		ORDER BY processed_at`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.TransactionID, &t.StoreID, &t.OccurredAt, &t.TotalAmount, &t.Status, pq.Array(&t.QualityFlags), &t.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LineItemsSince returns line items belonging to recently processed
// transactions.
func (r *TransactionRepository) LineItemsSince(ctx context.Context, since time.Time) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT li.transaction_id, li.line_seq, li.raw_product_text, li.resolved_product_id, li.resolution_confidence, li.quantity, li.unit_price, li.line_amount
		FROM line_items li
		JOIN transactions t ON t.transaction_id = li.transaction_id
		WHERE t.processed_at >= $1
		ORDER BY li.transaction_id, li.line_seq`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.TransactionID, &li.LineSeq, &li.RawProductText, &li.ResolvedProductID, &li.ResolutionConfidence, &li.Quantity, &li.UnitPrice, &li.LineAmount); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// AppendQualityFlag annotates a transaction with a rule name, once.
func (r *TransactionRepository) AppendQualityFlag(ctx context.Context, transactionID, flag string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET quality_flags = array_append(quality_flags, $2)
		WHERE transaction_id = $1 AND NOT ($2 = ANY(quality_flags))`,
		transactionID, flag,
	)
	return err
}

// NewestProcessedAt returns the max processed_at in the silver store, the
// zero time when the store is empty.
func (r *TransactionRepository) NewestProcessedAt(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT MAX(processed_at) FROM transactions`).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}
