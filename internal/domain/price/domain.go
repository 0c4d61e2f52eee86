package price

import (
	"time"

	"github.com/shopspring/decimal"
)

type Observation struct {
	ID         int64           `json:"id"`
	ConfigID   int64           `json:"config_id"`
	RunID      int64           `json:"run_id"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Scale is the number of fractional digits the store keeps for money.
const Scale = 2

// Normalize rounds d to the stored precision, half away from zero as
// NUMERIC does.
func Normalize(d decimal.Decimal) decimal.Decimal { return d.Round(Scale) }

// Crossed reports whether moving from prior to next crosses below target.
// A nil prior counts as unknown, which is treated as at-or-above.
func Crossed(prior *Observation, next decimal.Decimal, target decimal.Decimal) bool {
	if !next.LessThan(target) {
		return false
	}
	return prior == nil || prior.Price.GreaterThanOrEqual(target)
}
