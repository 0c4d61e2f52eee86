package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pricerus/internal/domain/scrape"

	"github.com/jackc/pgx/v5"
)

var _ scrape.Repo = (*RunRepoImpl)(nil)

type RunRepoImpl struct{ db *DB }

func NewRunRepo(db *DB) *RunRepoImpl { return &RunRepoImpl{db: db} }

const (
	qRunInsert = `
INSERT INTO scrape_runs (config_id, started_at, finished_at, outcome, price, error_class, http_status)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
RETURNING id;
`
	qRunsByConfig = `
SELECT id, config_id, started_at, finished_at, outcome, price::text, error_class, http_status
FROM scrape_runs
WHERE config_id = $1
ORDER BY started_at DESC, id DESC
LIMIT $2;
`
)

func (r *RunRepoImpl) Insert(ctx context.Context, run *scrape.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qRunInsert,
		run.ConfigID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(run.Outcome),
		moneyArg(run.Price),
		nullString(string(run.ErrorClass)),
		run.HTTPStatus,
	).Scan(&run.ID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert scrape run: %w", ErrConflict)
		}
		return fmt.Errorf("insert scrape run: %w", err)
	}
	return nil
}

func (r *RunRepoImpl) Latest(ctx context.Context, configID int64) (*scrape.Run, error) {
	list, err := r.ListByConfig(ctx, configID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *RunRepoImpl) ListByConfig(ctx context.Context, configID int64, limit int) ([]*scrape.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qRunsByConfig, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scrape runs: %w", err)
	}
	defer rows.Close()

	out := make([]*scrape.Run, 0, limit)
	for rows.Next() {
		rr, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*scrape.Run, error) {
	var (
		rr      scrape.Run
		outcome string
		price   *string
		class   *string
	)
	if err := row.Scan(&rr.ID, &rr.ConfigID, &rr.StartedAt, &rr.FinishedAt, &outcome, &price, &class, &rr.HTTPStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan scrape run: %w", err)
	}
	p, err := parseMoneyPtr(price)
	if err != nil {
		return nil, err
	}
	rr.Price = p
	rr.Outcome = scrape.Outcome(outcome)
	if class != nil {
		rr.ErrorClass = scrape.ErrorClass(*class)
	}
	rr.StartedAt = rr.StartedAt.UTC()
	rr.FinishedAt = rr.FinishedAt.UTC()
	return &rr, nil
}
