package kafka

import (
	"context"

	"github.com/NordCoder/Pricerus/internal/domain/outbox"
)

type PriceEvents interface {
	PublishPriceDropped(ctx context.Context, p outbox.PriceDroppedPayload) error
}
