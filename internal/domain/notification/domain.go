package notification

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Record proves a notification was owed for one crossing event.
type Record struct {
	ID       int64           `json:"id"`
	ConfigID int64           `json:"config_id"`
	UserID   int64           `json:"user_id"`
	Price    decimal.Decimal `json:"price"`
	SentAt   time.Time       `json:"sent_at"`
}

// IdempotencyKey identifies the delivery owed for r.
func (r *Record) IdempotencyKey() string {
	return "notification:" + strconv.FormatInt(r.ID, 10)
}

// Details is optional page context for the notification text.
type Details struct {
	Title  string
	Coupon string
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
