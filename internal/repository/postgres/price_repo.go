package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pricerus/internal/domain/price"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var _ price.Repo = (*PriceRepoImpl)(nil)

type PriceRepoImpl struct{ db *DB }

func NewPriceRepo(db *DB) *PriceRepoImpl { return &PriceRepoImpl{db: db} }

const (
	qObsAppend = `
INSERT INTO price_observations (config_id, run_id, price, recorded_at)
SELECT $1, $2, $3::numeric, $4
WHERE NOT EXISTS (
    SELECT 1 FROM price_observations
    WHERE config_id = $1 AND recorded_at > $4
)
RETURNING id;
`
	qObsLatest = `
SELECT id, config_id, run_id, price::text, recorded_at
FROM price_observations
WHERE config_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1;
`
	qObsLatestAtOrAbove = `
SELECT id, config_id, run_id, price::text, recorded_at
FROM price_observations
WHERE config_id = $1 AND price >= $2::numeric
ORDER BY recorded_at DESC, id DESC
LIMIT 1;
`
	qObsByConfig = `
SELECT id, config_id, run_id, price::text, recorded_at
FROM price_observations
WHERE config_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2;
`
)

func (r *PriceRepoImpl) Append(ctx context.Context, o *price.Observation) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qObsAppend,
		o.ConfigID, o.RunID, o.Price.String(), o.RecordedAt.UTC(),
	).Scan(&o.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOutOfOrder
	}
	if err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

func (r *PriceRepoImpl) Latest(ctx context.Context, configID int64) (*price.Observation, error) {
	return r.queryOne(ctx, qObsLatest, configID)
}

func (r *PriceRepoImpl) LatestAtOrAbove(ctx context.Context, configID int64, target decimal.Decimal) (*price.Observation, error) {
	return r.queryOne(ctx, qObsLatestAtOrAbove, configID, target.String())
}

func (r *PriceRepoImpl) queryOne(ctx context.Context, q string, args ...any) (*price.Observation, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	o, err := scanObservation(r.db.execQueryer(ctx).QueryRow(ctx, q, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (r *PriceRepoImpl) ListByConfig(ctx context.Context, configID int64, limit int) ([]*price.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qObsByConfig, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := make([]*price.Observation, 0, limit)
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanObservation(row pgx.Row) (*price.Observation, error) {
	var (
		o   price.Observation
		raw string
	)
	if err := row.Scan(&o.ID, &o.ConfigID, &o.RunID, &raw, &o.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan observation: %w", err)
	}
	p, err := parseMoney(raw)
	if err != nil {
		return nil, err
	}
	o.Price = p
	o.RecordedAt = o.RecordedAt.UTC()
	return &o, nil
}
