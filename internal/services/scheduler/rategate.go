package scheduler

import (
	"sync"
	"time"

	"github.com/NordCoder/Pricerus/internal/domain/tracking"
)

// Limits are the inflight ceilings applied at dispatch time.
type Limits struct {
	Global  int
	PerUser int
}

// IsDue reports whether c may be attempted at now.
func IsDue(c *tracking.Config, now time.Time) bool {
	return c.Due(now)
}

// Admit reports whether one more job fits under both ceilings.
func Admit(l Limits, globalInflight, userInflight int) bool {
	return globalInflight < l.Global && userInflight < l.PerUser
}

// Inflight counts running jobs globally, per user and per config.
type Inflight struct {
	mu      sync.Mutex
	limits  Limits
	global  int
	perUser map[int64]int
	configs map[int64]struct{}
}

func NewInflight(l Limits) *Inflight {
	return &Inflight{
		limits:  l,
		perUser: make(map[int64]int),
		configs: make(map[int64]struct{}),
	}
}

// Acquire checks the ceilings and reserves a slot in one step. A config that
// is already running in this process is never admitted twice.
func (f *Inflight) Acquire(c *tracking.Config) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, running := f.configs[c.ID]; running {
		return false
	}
	if !Admit(f.limits, f.global, f.perUser[c.UserID]) {
		return false
	}
	f.global++
	f.perUser[c.UserID]++
	f.configs[c.ID] = struct{}{}
	return true
}

func (f *Inflight) Release(c *tracking.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[c.ID]; !ok {
		return
	}
	delete(f.configs, c.ID)
	f.global--
	if n := f.perUser[c.UserID] - 1; n > 0 {
		f.perUser[c.UserID] = n
	} else {
		delete(f.perUser, c.UserID)
	}
}

func (f *Inflight) Global() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global
}

func (f *Inflight) User(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perUser[userID]
}
