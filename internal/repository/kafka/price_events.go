package kafka

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/NordCoder/Pricerus/internal/domain/kafka"
	"github.com/NordCoder/Pricerus/internal/domain/outbox"
)

const EventPriceDropped = "price.dropped"

type PriceEventsKafka struct {
	p *Producer
}

func NewPriceEventsKafka(p *Producer) *PriceEventsKafka { return &PriceEventsKafka{p: p} }

var _ kafka.PriceEvents = (*PriceEventsKafka)(nil)

// PublishPriceDropped keys by config so a config's events stay ordered on one partition.
func (e *PriceEventsKafka) PublishPriceDropped(ctx context.Context, p outbox.PriceDroppedPayload) error {
	msg, err := PriceDroppedMessage(p)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromInt64(p.ConfigID), msg, map[string]string{
		"event":           EventPriceDropped,
		"idempotency-key": fmt.Sprintf("notification:%d", p.NotificationID),
	})
}

// PriceDroppedMessage renders the event as a protobuf Struct.
func PriceDroppedMessage(p outbox.PriceDroppedPayload) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"event":           EventPriceDropped,
		"idempotency_key": fmt.Sprintf("notification:%d", p.NotificationID),
		"notification_id": p.NotificationID,
		"config_id":       p.ConfigID,
		"user_id":         p.UserID,
		"product_id":      p.ProductID,
		"price":           p.Price,
		"target":          p.Target,
		"at":              p.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build price-dropped event: %w", err)
	}
	return msg, nil
}
