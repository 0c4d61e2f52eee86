package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pricerus/internal/domain/tracking"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	justNow := now.Add(-time.Minute)

	cases := []struct {
		name string
		cfg  tracking.Config
		want bool
	}{
		{"never attempted", tracking.Config{Enabled: true, MinInterval: time.Hour}, true},
		{"interval elapsed exactly", tracking.Config{Enabled: true, MinInterval: time.Hour, LastAttemptedAt: &hourAgo}, true},
		{"too soon", tracking.Config{Enabled: true, MinInterval: time.Hour, LastAttemptedAt: &justNow}, false},
		{"disabled", tracking.Config{Enabled: false, MinInterval: time.Hour}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDue(&tc.cfg, now))
		})
	}
}

func TestAdmit(t *testing.T) {
	l := Limits{Global: 3, PerUser: 2}
	assert.True(t, Admit(l, 0, 0))
	assert.True(t, Admit(l, 2, 1))
	assert.False(t, Admit(l, 3, 0), "global saturated")
	assert.False(t, Admit(l, 1, 2), "user saturated")
}

func TestInflight_AcquireRelease(t *testing.T) {
	f := NewInflight(Limits{Global: 2, PerUser: 1})
	a := &tracking.Config{ID: 1, UserID: 10}
	b := &tracking.Config{ID: 2, UserID: 10}
	c := &tracking.Config{ID: 3, UserID: 20}
	d := &tracking.Config{ID: 4, UserID: 30}

	require.True(t, f.Acquire(a))
	assert.False(t, f.Acquire(a), "same config twice")
	assert.False(t, f.Acquire(b), "per-user ceiling")
	require.True(t, f.Acquire(c))
	assert.False(t, f.Acquire(d), "global ceiling")

	f.Release(a)
	assert.Equal(t, 1, f.Global())
	assert.Equal(t, 0, f.User(10))
	assert.True(t, f.Acquire(b))

	f.Release(a)
	assert.Equal(t, 2, f.Global(), "release of an idle config is a no-op")
}

func TestInflight_ConcurrentNeverExceedsCeiling(t *testing.T) {
	f := NewInflight(Limits{Global: 5, PerUser: 100})
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if f.Acquire(&tracking.Config{ID: id, UserID: id}) {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 5, got)
	assert.Equal(t, 5, f.Global())
}
