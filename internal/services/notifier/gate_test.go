package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/domain/outbox"
	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/repository/memory"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type mail struct{ to, subject, body string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail{to, subject, body})
	return nil
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

type harness struct {
	store *memory.Store
	mail  *fakeMailer
	gate  *Gate
	cfgID int64
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), mail: &fakeMailer{}, now: t0}
	uid := h.store.AddUser("buyer@example.com")
	h.cfgID = h.store.AddConfig(tracking.Config{
		UserID:      uid,
		ProductName: "Acme Kettle",
		ProductURL:  "https://shop.example/kettle",
		TargetPrice: decimal.RequireFromString("20.00"),
		MinInterval: time.Hour,
		Enabled:     true,
	})
	h.gate = &Gate{
		Log:           zap.NewNop(),
		Tx:            h.store,
		Configs:       h.store.Tracking(),
		Prices:        h.store.Prices(),
		Notifications: h.store.Notifications(),
		Users:         h.store.Users(),
		Outbox:        h.store.Outbox(),
		Mail:          h.mail,
		Clock:         clockFunc(func() time.Time { return h.now }),
	}
	return h
}

// observe appends an observation an hour after the previous one and runs the
// gate when it crosses, the way the executor does.
func (h *harness) observe(t *testing.T, amount string) {
	t.Helper()
	ctx := context.Background()
	h.now = h.now.Add(time.Hour)

	prior, err := h.store.Prices().Latest(ctx, h.cfgID)
	require.NoError(t, err)
	cfg, err := h.store.Tracking().GetByID(ctx, h.cfgID)
	require.NoError(t, err)

	o := &price.Observation{ConfigID: h.cfgID, Price: decimal.RequireFromString(amount), RecordedAt: h.now}
	require.NoError(t, h.store.Prices().Append(ctx, o))

	if price.Crossed(prior, o.Price, cfg.TargetPrice) {
		_, _ = h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{})
	}
}

func (h *harness) records(t *testing.T) int {
	t.Helper()
	list, err := h.store.Notifications().ListByConfig(context.Background(), h.cfgID, 0)
	require.NoError(t, err)
	return len(list)
}

func TestGate_RoundTripAroundTargetNotifiesOncePerCrossing(t *testing.T) {
	h := newHarness(t)

	h.observe(t, "25.00")
	h.observe(t, "19.99")
	h.observe(t, "19.99")
	assert.Equal(t, 1, h.records(t))
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "buyer@example.com", h.mail.sent[0].to)
	assert.Contains(t, h.mail.sent[0].subject, "19.99")
	assert.Contains(t, h.mail.sent[0].body, "Acme Kettle")

	h.observe(t, "20.00")
	h.observe(t, "19.99")
	assert.Equal(t, 2, h.records(t))
	assert.Len(t, h.mail.sent, 2)

	msgs := h.store.Outbox().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, outbox.KindPriceDropped, msgs[0].Kind)
}

func TestGate_FirstObservationBelowTargetNotifies(t *testing.T) {
	h := newHarness(t)
	h.observe(t, "15.00")
	h.observe(t, "14.00")
	assert.Equal(t, 1, h.records(t))
	assert.Len(t, h.mail.sent, 1)
}

func TestGate_AlreadyBelowThenLowerDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	h.observe(t, "25.00")
	h.observe(t, "19.00")
	require.Equal(t, 1, h.records(t))

	h.observe(t, "18.00")
	h.observe(t, "10.00")
	assert.Equal(t, 1, h.records(t))
	assert.Len(t, h.mail.sent, 1)
}

func TestGate_RepeatedEvaluationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.observe(t, "25.00")

	h.now = h.now.Add(time.Hour)
	o := &price.Observation{ConfigID: h.cfgID, Price: decimal.RequireFromString("19.00"), RecordedAt: h.now}
	require.NoError(t, h.store.Prices().Append(ctx, o))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.records(t))
	assert.Len(t, h.mail.sent, 1)
}

func TestGate_MailFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.mail.err = errors.New("connection refused")
	ctx := context.Background()

	h.now = h.now.Add(time.Hour)
	o := &price.Observation{ConfigID: h.cfgID, Price: decimal.RequireFromString("5"), RecordedAt: h.now}
	require.NoError(t, h.store.Prices().Append(ctx, o))

	rec, err := h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{Title: "Kettle"})
	require.Error(t, err)
	assert.True(t, IsMailError(err))
	require.NotNil(t, rec)
	assert.Equal(t, 1, h.records(t))

	h.mail.err = nil
	rec, err = h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{Title: "Kettle"})
	require.NoError(t, err)
	assert.Nil(t, rec, "recorded but undelivered is not resent")
	assert.Empty(t, h.mail.sent)
}

func TestGate_UsesCurrentTarget(t *testing.T) {
	h := newHarness(t)
	h.observe(t, "25.00")

	h.store.UpdateConfig(h.cfgID, func(c *tracking.Config) { c.TargetPrice = decimal.RequireFromString("10.00") })

	ctx := context.Background()
	h.now = h.now.Add(time.Hour)
	o := &price.Observation{ConfigID: h.cfgID, Price: decimal.RequireFromString("15.00"), RecordedAt: h.now}
	require.NoError(t, h.store.Prices().Append(ctx, o))

	rec, err := h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{})
	require.NoError(t, err)
	assert.Nil(t, rec, "15 is not below the edited target")
	assert.Equal(t, 0, h.records(t))
}

func TestGate_DisabledConfigIsSuppressed(t *testing.T) {
	h := newHarness(t)
	h.store.UpdateConfig(h.cfgID, func(c *tracking.Config) { c.Enabled = false })
	h.observe(t, "5.00")
	assert.Equal(t, 0, h.records(t))
}

func TestGate_BodyNamesCouponAndTitle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.now = h.now.Add(time.Hour)
	o := &price.Observation{ConfigID: h.cfgID, Price: decimal.RequireFromString("18.50"), RecordedAt: h.now}
	require.NoError(t, h.store.Prices().Append(ctx, o))

	rec, err := h.gate.MaybeNotify(ctx, h.cfgID, o, notification.Details{Title: "Acme Kettle 1.7L", Coupon: "$5.00 off"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, h.mail.sent, 1)

	m := h.mail.sent[0]
	assert.Equal(t, "Price drop: Acme Kettle 1.7L is now 18.50", m.subject)
	assert.Contains(t, m.body, "A coupon is also available: $5.00 off.")
	assert.Contains(t, m.body, "below your target of 20.00")
	assert.True(t, strings.HasSuffix(m.body, "\n-- \nPricerus"))
	assert.NotContains(t, m.body, "\u2014")
}

func TestGate_BodyWithoutCoupon(t *testing.T) {
	h := newHarness(t)
	h.observe(t, "19.99")
	require.Len(t, h.mail.sent, 1)
	assert.NotContains(t, h.mail.sent[0].body, "coupon")
}
