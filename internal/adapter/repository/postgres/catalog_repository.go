package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/retailops/posflow/internal/domain"
)

// CatalogRepository reads the externally-owned product catalog table.
type CatalogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCatalogRepository creates a new PostgreSQL catalog repository.
func NewCatalogRepository(db *sql.DB, logger *slog.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

// Snapshot returns the full catalog for building a resolver index.
func (r *CatalogRepository) Snapshot(ctx context.Context) ([]domain.ProductCatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, canonical_name, COALESCE(brand, ''), aliases, match_count
		FROM product_catalog
		ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProductCatalogEntry
	for rows.Next() {
		var e domain.ProductCatalogEntry
		if err := rows.Scan(&e.ProductID, &e.CanonicalName, &e.Brand, pq.Array(&e.Aliases), &e.MatchCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementMatchCount bumps the historical match frequency for tie-breaks.
func (r *CatalogRepository) IncrementMatchCount(ctx context.Context, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE product_catalog SET match_count = match_count + 1 WHERE product_id = $1`,
		productID,
	)
	return err
}
