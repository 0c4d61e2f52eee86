package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/NordCoder/Pricerus/internal/domain/outbox"
)

func TestPriceDroppedMessage(t *testing.T) {
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	msg, err := PriceDroppedMessage(outbox.PriceDroppedPayload{
		NotificationID: 42, ConfigID: 3, UserID: 9, ProductID: 5,
		Price: "19.99", Target: "20.00", At: at,
	})
	require.NoError(t, err)

	raw, err := proto.Marshal(msg)
	require.NoError(t, err)

	var back structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &back))
	f := back.GetFields()
	assert.Equal(t, EventPriceDropped, f["event"].GetStringValue())
	assert.Equal(t, "notification:42", f["idempotency_key"].GetStringValue())
	assert.Equal(t, float64(3), f["config_id"].GetNumberValue())
	assert.Equal(t, "19.99", f["price"].GetStringValue())
	assert.Equal(t, "2026-05-02T10:00:00Z", f["at"].GetStringValue())
}

func TestHeaders_CarryTraceAndEvent(t *testing.T) {
	h := mapCarrierHeaders{"event": EventPriceDropped, "idempotency-key": "notification:42"}
	got := map[string]string{}
	for _, kh := range h.ToKafka() {
		got[kh.Key] = string(kh.Value)
	}
	assert.Equal(t, EventPriceDropped, got["event"])
	assert.Equal(t, "notification:42", got["idempotency-key"])
	assert.ElementsMatch(t, []string{"event", "idempotency-key"}, h.Keys())
}
