package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (config_id, user_id, price, sent_at)
VALUES ($1, $2, $3::numeric, COALESCE($4, now()))
RETURNING id, sent_at;
`
	qNotifExistsAfter = `
SELECT EXISTS (
    SELECT 1 FROM notifications
    WHERE config_id = $1
      AND ($2::timestamptz IS NULL OR sent_at > $2)
);
`
	qNotifByConfig = `
SELECT id, config_id, user_id, price::text, sent_at
FROM notifications
WHERE config_id = $1
ORDER BY sent_at DESC, id DESC
LIMIT $2;
`
)

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert,
		n.ConfigID,
		n.UserID,
		n.Price.String(),
		nullTime(n.SentAt),
	).Scan(&n.ID, &n.SentAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.SentAt = n.SentAt.UTC()
	return nil
}

func (r *NotificationRepoImpl) ExistsAfter(ctx context.Context, configID int64, since *time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifExistsAfter, configID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("notification exists: %w", err)
	}
	return exists, nil
}

func (r *NotificationRepoImpl) ListByConfig(ctx context.Context, configID int64, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNotifByConfig, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Record, 0, limit)
	for rows.Next() {
		var (
			n   notification.Record
			raw string
		)
		if err := rows.Scan(&n.ID, &n.ConfigID, &n.UserID, &raw, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		p, err := parseMoney(raw)
		if err != nil {
			return nil, err
		}
		n.Price = p
		n.SentAt = n.SentAt.UTC()
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
