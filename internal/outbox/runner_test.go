package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/outbox"
	"github.com/NordCoder/Pricerus/internal/obs/retry"
	"github.com/NordCoder/Pricerus/internal/repository/memory"
)

type fakePublisher struct {
	mu   sync.Mutex
	got  []outbox.PriceDroppedPayload
	fail error
}

func (f *fakePublisher) PublishPriceDropped(_ context.Context, p outbox.PriceDroppedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, p)
	return nil
}

func onceNoWait() retry.Policy {
	return retry.Policy{Name: "test", Attempts: 1, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
}

func TestRunnerTick_PublishesPriceDropped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pub := &fakePublisher{}

	data, err := EncodePriceDropped(outbox.PriceDroppedPayload{
		NotificationID: 7, ConfigID: 3, UserID: 1, Price: "19.99", Target: "20.00",
		At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, store.Outbox().Enqueue(ctx, "notification:7", outbox.KindPriceDropped, data))

	r := NewOutboxRunner(zap.NewNop(), store.Outbox(), MakeGlobalOutboxHandler(pub, onceNoWait()), Config{BatchSize: 10})
	assert.Equal(t, 1, r.Tick(ctx))

	require.Len(t, pub.got, 1)
	assert.Equal(t, int64(7), pub.got[0].NotificationID)
	assert.Equal(t, "19.99", pub.got[0].Price)

	msgs := store.Outbox().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.StatusSuccess, msgs[0].Status)

	assert.Equal(t, 0, r.Tick(ctx))
}

func TestRunnerTick_FailedPublishStaysInProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pub := &fakePublisher{fail: errors.New("broker down")}

	require.NoError(t, store.Outbox().Enqueue(ctx, "notification:1", outbox.KindPriceDropped, []byte(`{"notification_id":1}`)))
	require.NoError(t, store.Outbox().Enqueue(ctx, "weird", outbox.Kind(99), []byte(`{}`)))

	r := NewOutboxRunner(zap.NewNop(), store.Outbox(), MakeGlobalOutboxHandler(pub, onceNoWait()), Config{BatchSize: 10})
	assert.Equal(t, 0, r.Tick(ctx))

	for _, m := range store.Outbox().Messages() {
		assert.Equal(t, outbox.StatusInProgress, m.Status, m.IdempotencyKey)
	}
}
