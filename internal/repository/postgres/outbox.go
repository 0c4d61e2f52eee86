package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Pricerus/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qOutboxEnqueue = `
INSERT INTO outbox (idempotency_key, kind, data, status)
VALUES ($1, $2, $3, 'CREATED')
ON CONFLICT (idempotency_key) DO NOTHING`

	// Stale IN_PROGRESS rows belong to a publisher that died mid-batch.
	// SKIP LOCKED keeps concurrent scheduler instances off each other's rows.
	qOutboxPick = `
WITH cand AS (
   SELECT idempotency_key
   FROM outbox
   WHERE status = 'CREATED'
      OR (status = 'IN_PROGRESS' AND updated_at < now() - make_interval(secs => $2))
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET status = 'IN_PROGRESS', updated_at = now()
FROM cand
WHERE o.idempotency_key = cand.idempotency_key
RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at`

	qOutboxMarkSuccess = `
UPDATE outbox
SET status = 'SUCCESS', updated_at = now()
WHERE idempotency_key = ANY($1) AND status <> 'SUCCESS'`
)

// Enqueue joins the caller's transaction when there is one, so the message
// commits together with the notification record it announces.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxEnqueue, key, int(kind), data); err != nil {
		return fmt.Errorf("outbox enqueue %s: %w", key, err)
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxPick, batch, inProgressTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var (
			m      outbox.Message
			kind   int
			status string
		)
		err := row.Scan(&m.IdempotencyKey, &kind, &m.Data, &status, &m.CreatedAt, &m.UpdatedAt)
		m.Kind, m.Status = outbox.Kind(kind), outbox.Status(status)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("outbox scan: %w", err)
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxMarkSuccess, keys); err != nil {
		return fmt.Errorf("outbox mark success: %w", err)
	}
	return nil
}
