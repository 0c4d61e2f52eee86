package scrape

import (
	"time"

	"github.com/NordCoder/Pricerus/internal/domain/tracking"
)

// Job is one claimed attempt. StartedAt equals the claim stamp, so it is
// strictly increasing per config.
type Job struct {
	Config    *tracking.Config
	StartedAt time.Time
	TickID    string
}
