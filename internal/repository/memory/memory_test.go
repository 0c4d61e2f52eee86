package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(s *Store, last *time.Time) int64 {
	uid := s.AddUser("a@example.com")
	return s.AddConfig(tracking.Config{
		UserID:          uid,
		ProductURL:      "https://shop.example/p/1",
		TargetPrice:     decimal.RequireFromString("20.00"),
		MinInterval:     time.Hour,
		Enabled:         true,
		LastAttemptedAt: last,
	})
}

func TestFetchDue_OrdersNeverAttemptedFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	old := t0.Add(-3 * time.Hour)
	recent := t0.Add(-2 * time.Hour)
	notDue := t0.Add(-time.Minute)
	idRecent := seed(s, &recent)
	idOld := seed(s, &old)
	idNever := seed(s, nil)
	seed(s, &notDue)
	disabled := seed(s, nil)
	s.UpdateConfig(disabled, func(c *tracking.Config) { c.Enabled = false })

	due, err := s.Tracking().FetchDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []int64{idNever, idOld, idRecent}, []int64{due[0].ID, due[1].ID, due[2].ID})

	due, err = s.Tracking().FetchDue(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, idNever, due[0].ID)
}

func TestClaim_ConditionalOnPreviousStamp(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(s, nil)
	repo := s.Tracking()

	ok, err := repo.Claim(ctx, id, nil, t0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(ctx, id, nil, t0)
	require.NoError(t, err)
	assert.False(t, ok, "second claim with stale prev must lose")

	ok, err = repo.Claim(ctx, id, &t0, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "interval not elapsed")

	ok, err = repo.Claim(ctx, id, &t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	c, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c.LastAttemptedAt)
	assert.True(t, c.LastAttemptedAt.Equal(t0.Add(time.Hour)))
}

func TestAppend_RejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(s, nil)

	require.NoError(t, s.Prices().Append(ctx, &price.Observation{ConfigID: id, Price: decimal.NewFromInt(10), RecordedAt: t0}))
	require.NoError(t, s.Prices().Append(ctx, &price.Observation{ConfigID: id, Price: decimal.NewFromInt(11), RecordedAt: t0}))
	err := s.Prices().Append(ctx, &price.Observation{ConfigID: id, Price: decimal.NewFromInt(9), RecordedAt: t0.Add(-time.Second)})
	assert.ErrorIs(t, err, repository.ErrOutOfOrder)

	latest, err := s.Prices().Latest(ctx, id)
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(11)))
}

func TestWithTx_RollsBackHistoryOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(s, nil)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		run := scrape.Succeeded(id, t0, t0.Add(time.Second), decimal.NewFromInt(5), 200)
		require.NoError(t, s.Runs().Insert(ctx, run))
		require.NoError(t, s.Outbox().Enqueue(ctx, "k", 1, []byte("x")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	runs, err := s.Runs().ListByConfig(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, s.Outbox().Messages())
}

func TestRunInsert_UniqueStartPerConfig(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(s, nil)

	require.NoError(t, s.Runs().Insert(ctx, scrape.Failed(id, t0, t0, scrape.ClassNetwork, 0)))
	err := s.Runs().Insert(ctx, scrape.Failed(id, t0, t0, scrape.ClassNetwork, 0))
	assert.ErrorIs(t, err, repository.ErrConflict)

	bad := &scrape.Run{ConfigID: id, StartedAt: t0, FinishedAt: t0, Outcome: scrape.OutcomeSuccess}
	assert.ErrorIs(t, s.Runs().Insert(ctx, bad), scrape.ErrInvalidRun)
}
