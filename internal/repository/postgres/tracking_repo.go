package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pricerus/internal/domain/tracking"

	"github.com/jackc/pgx/v5"
)

var _ tracking.Repo = (*TrackingRepoImpl)(nil)

type TrackingRepoImpl struct {
	db *DB
}

func NewTrackingRepo(db *DB) *TrackingRepoImpl { return &TrackingRepoImpl{db: db} }

const trackingColumns = `
tc.id, tc.user_id, tc.product_id, p.name, p.url, tc.target_price::text,
tc.min_interval_sec, tc.enabled, tc.last_attempted_at, tc.last_succeeded_at`

const (
	qTrackingGetByID = `
SELECT` + trackingColumns + `
FROM tracking_configs tc
JOIN products p ON p.id = tc.product_id
WHERE tc.id = $1;
`

	qTrackingLock = `
SELECT` + trackingColumns + `
FROM tracking_configs tc
JOIN products p ON p.id = tc.product_id
WHERE tc.id = $1
FOR UPDATE OF tc;
`

	qTrackingFetchDue = `
SELECT` + trackingColumns + `
FROM tracking_configs tc
JOIN products p ON p.id = tc.product_id
WHERE tc.enabled = TRUE
  AND (tc.last_attempted_at IS NULL
       OR tc.last_attempted_at <= $1 - (tc.min_interval_sec * INTERVAL '1 second'))
ORDER BY tc.last_attempted_at ASC NULLS FIRST, tc.id
LIMIT $2;
`

	qTrackingClaim = `
UPDATE tracking_configs
SET last_attempted_at = $2,
    updated_at        = NOW()
WHERE id = $1
  AND enabled = TRUE
  AND last_attempted_at IS NOT DISTINCT FROM $3
  AND (last_attempted_at IS NULL
       OR last_attempted_at <= $2 - (min_interval_sec * INTERVAL '1 second'));
`

	qTrackingMarkSucceeded = `
UPDATE tracking_configs
SET last_succeeded_at = $2,
    updated_at        = NOW()
WHERE id = $1;
`
)

func scanConfig(row pgx.Row, c *tracking.Config) error {
	var (
		target      string
		intervalSec int64
	)
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ProductID,
		&c.ProductName,
		&c.ProductURL,
		&target,
		&intervalSec,
		&c.Enabled,
		&c.LastAttemptedAt,
		&c.LastSucceededAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan tracking config: %w", err)
	}
	price, err := parseMoney(target)
	if err != nil {
		return err
	}
	c.TargetPrice = price
	c.MinInterval = time.Duration(intervalSec) * time.Second
	c.LastAttemptedAt = utcPtr(c.LastAttemptedAt)
	c.LastSucceededAt = utcPtr(c.LastSucceededAt)
	return nil
}

func (r *TrackingRepoImpl) GetByID(ctx context.Context, id int64) (*tracking.Config, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c tracking.Config
	if err := scanConfig(r.db.execQueryer(ctx).QueryRow(ctx, qTrackingGetByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *TrackingRepoImpl) Lock(ctx context.Context, id int64) (*tracking.Config, error) {
	if _, err := extractTx(ctx); err != nil {
		return nil, fmt.Errorf("lock tracking config: %w", err)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c tracking.Config
	if err := scanConfig(r.db.execQueryer(ctx).QueryRow(ctx, qTrackingLock, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *TrackingRepoImpl) FetchDue(ctx context.Context, now time.Time, limit int) ([]*tracking.Config, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTrackingFetchDue, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	out := make([]*tracking.Config, 0, limit)
	for rows.Next() {
		var c tracking.Config
		if err := scanConfig(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *TrackingRepoImpl) Claim(ctx context.Context, id int64, prev *time.Time, now time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qTrackingClaim, id, now.UTC(), prev)
	if err != nil {
		return false, fmt.Errorf("claim tracking config: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *TrackingRepoImpl) MarkSucceeded(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qTrackingMarkSucceeded, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
