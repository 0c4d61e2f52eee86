package tracking

import (
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	ProductURL      string          `json:"product_url"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	MinInterval     time.Duration   `json:"min_interval"`
	Enabled         bool            `json:"enabled"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at"`
	LastSucceededAt *time.Time      `json:"last_succeeded_at"`
}

// Due reports whether c may be attempted at now.
func (c *Config) Due(now time.Time) bool {
	if c == nil || !c.Enabled {
		return false
	}
	if c.LastAttemptedAt == nil {
		return true
	}
	return now.Sub(*c.LastAttemptedAt) >= c.MinInterval
}
