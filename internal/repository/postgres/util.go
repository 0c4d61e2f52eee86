package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricerus/internal/repository"
)

var (
	ErrNotFound   = repository.ErrNotFound
	ErrConflict   = repository.ErrConflict
	ErrOutOfOrder = repository.ErrOutOfOrder
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Money travels as text to keep NUMERIC precision.
func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

func parseMoneyPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseMoney(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func moneyArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
