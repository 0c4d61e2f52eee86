package tracking

import (
	"context"
	"time"
)

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Config, error)
	// FetchDue returns enabled configs due at now, oldest attempt first (never attempted first).
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Config, error)
	// Claim stamps last_attempted_at = now only if the stored value still equals prev
	// and the interval has elapsed. It reports whether the stamp was applied.
	Claim(ctx context.Context, id int64, prev *time.Time, now time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, id int64, at time.Time) error
	// Lock re-reads the config holding a row lock for the surrounding transaction.
	Lock(ctx context.Context, id int64) (*Config, error)
}
