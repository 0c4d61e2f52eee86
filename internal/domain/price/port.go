package price

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repo interface {
	// Append rejects observations recorded before the latest one for the config.
	Append(ctx context.Context, o *Observation) error
	// Latest returns nil when the config has no observations yet.
	Latest(ctx context.Context, configID int64) (*Observation, error)
	// LatestAtOrAbove returns the most recent observation with price >= target, or nil.
	LatestAtOrAbove(ctx context.Context, configID int64, target decimal.Decimal) (*Observation, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]*Observation, error)
}
