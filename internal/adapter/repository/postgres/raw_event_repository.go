package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/retailops/posflow/internal/domain"
)

// RawEventRepository implements the bronze store on PostgreSQL. Rows are
// append-only; the lease columns support concurrent transform workers
// without table-level locks.
type RawEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRawEventRepository creates a new PostgreSQL raw event repository.
func NewRawEventRepository(db *sql.DB, logger *slog.Logger) *RawEventRepository {
	return &RawEventRepository{db: db, logger: logger}
}

// Insert stages a raw event. ON CONFLICT DO NOTHING gives the
// insert-or-ignore semantics the gateway contract requires: a duplicate
// idempotency key is reported, not an error.
func (r *RawEventRepository) Insert(ctx context.Context, event domain.RawEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_events (idempotency_key, payload, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		event.IdempotencyKey, []byte(event.Payload), event.ReceivedAt,
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

// ClaimBatch leases up to limit unprocessed rows to the named worker.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers from blocking on each
// other; claims older than the lease timeout are treated as abandoned and
// reclaimed.
func (r *RawEventRepository) ClaimBatch(ctx context.Context, worker string, limit int, lease time.Duration) ([]domain.RawEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE raw_events SET claimed_at = NOW(), claimed_by = $1
		WHERE idempotency_key IN (
			SELECT idempotency_key FROM raw_events
			WHERE processed_at IS NULL
			  AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY received_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING idempotency_key, payload, received_at`,
		worker, lease.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RawEvent
	for rows.Next() {
		var ev domain.RawEvent
		var payload []byte
		if err := rows.Scan(&ev.IdempotencyKey, &payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		ev.ClaimedBy = worker
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkProcessed finalizes an event, with an error annotation when cleaning
// failed. The guard on processed_at keeps the marker write-once.
func (r *RawEventRepository) MarkProcessed(ctx context.Context, idempotencyKey, processError string) error {
	var procErr sql.NullString
	if processError != "" {
		procErr = sql.NullString{String: processError, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE raw_events
		SET processed_at = NOW(), process_error = $2
		WHERE idempotency_key = $1 AND processed_at IS NULL`,
		idempotencyKey, procErr,
	)
	return err
}

// ReleaseClaim returns a claimed-but-unprocessed row to the pool.
func (r *RawEventRepository) ReleaseClaim(ctx context.Context, idempotencyKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE raw_events
		SET claimed_at = NULL, claimed_by = ''
		WHERE idempotency_key = $1 AND processed_at IS NULL`,
		idempotencyKey,
	)
	return err
}

// RequeueFailed clears the processed marker for events that failed cleaning,
// making them eligible for the next transform tick. Successfully processed
// events (empty annotation) are never requeued.
func (r *RawEventRepository) RequeueFailed(ctx context.Context, idempotencyKeys []string) (int64, error) {
	if len(idempotencyKeys) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE raw_events
		SET processed_at = NULL, process_error = NULL, claimed_at = NULL, claimed_by = ''
		WHERE idempotency_key = ANY($1)
		  AND processed_at IS NOT NULL
		  AND process_error IS NOT NULL`,
		pq.Array(idempotencyKeys),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
