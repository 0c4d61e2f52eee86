// Package memory is an in-process store implementing every repository port.
// It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/domain/outbox"
	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/domain/user"
	"github.com/NordCoder/Pricerus/internal/repository"
)

// Store keeps all tables behind one mutex. Writes outside a transaction and
// whole transactions are serialized by txMu.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	users   map[int64]*user.User
	configs map[int64]*tracking.Config
	runs    []*scrape.Run
	obs     []*price.Observation
	notifs  []*notification.Record
	outbox  map[string]*outbox.Message
	nextID  int64

	// Fault, when set, is consulted before every write; a non-nil result fails it.
	Fault func(op string) error
}

func New() *Store {
	return &Store{
		users:   make(map[int64]*user.User),
		configs: make(map[int64]*tracking.Config),
		runs:    make([]*scrape.Run, 0, 128),
		obs:     make([]*price.Observation, 0, 128),
		notifs:  make([]*notification.Record, 0, 16),
		outbox:  make(map[string]*outbox.Message),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op)
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

type txState struct {
	runs, obs, notifs int
	outboxKeys        []string
}

// write serializes a mutation with running transactions.
func (s *Store) write(ctx context.Context) func() {
	if inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// WithTx runs fn atomically. Appended history rows and outbox messages are
// discarded when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	st := &txState{runs: len(s.runs), obs: len(s.obs), notifs: len(s.notifs)}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		s.mu.Lock()
		s.runs = s.runs[:st.runs]
		s.obs = s.obs[:st.obs]
		s.notifs = s.notifs[:st.notifs]
		for _, k := range st.outboxKeys {
			delete(s.outbox, k)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddUser seeds a user and returns its id.
func (s *Store) AddUser(email string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.users[id] = &user.User{ID: id, Email: email}
	return id
}

// AddConfig seeds a tracking config; a zero ID is assigned.
func (s *Store) AddConfig(c tracking.Config) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.ProductID == 0 {
		c.ProductID = c.ID
	}
	s.configs[c.ID] = &c
	return c.ID
}

// UpdateConfig applies edit to a stored config, e.g. a new target price.
func (s *Store) UpdateConfig(id int64, edit func(c *tracking.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[id]; ok {
		edit(c)
	}
}

func cloneConfig(c *tracking.Config) *tracking.Config {
	cp := *c
	if c.LastAttemptedAt != nil {
		t := *c.LastAttemptedAt
		cp.LastAttemptedAt = &t
	}
	if c.LastSucceededAt != nil {
		t := *c.LastSucceededAt
		cp.LastSucceededAt = &t
	}
	return &cp
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Tracking

type TrackingRepo struct{ s *Store }

var _ tracking.Repo = (*TrackingRepo)(nil)

func (s *Store) Tracking() *TrackingRepo { return &TrackingRepo{s: s} }

func (r *TrackingRepo) GetByID(_ context.Context, id int64) (*tracking.Config, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.configs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConfig(c), nil
}

func (r *TrackingRepo) Lock(ctx context.Context, id int64) (*tracking.Config, error) {
	return r.GetByID(ctx, id)
}

func (r *TrackingRepo) FetchDue(_ context.Context, now time.Time, limit int) ([]*tracking.Config, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*tracking.Config, 0, len(r.s.configs))
	for _, c := range r.s.configs {
		if c.Due(now) {
			out = append(out, cloneConfig(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastAttemptedAt, out[j].LastAttemptedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TrackingRepo) Claim(ctx context.Context, id int64, prev *time.Time, now time.Time) (bool, error) {
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("claim"); err != nil {
		return false, err
	}

	c, ok := r.s.configs[id]
	if !ok || !equalTime(c.LastAttemptedAt, prev) || !c.Due(now) {
		return false, nil
	}
	t := now.UTC()
	c.LastAttemptedAt = &t
	return true, nil
}

func (r *TrackingRepo) MarkSucceeded(ctx context.Context, id int64, at time.Time) error {
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("mark_succeeded"); err != nil {
		return err
	}
	c, ok := r.s.configs[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at.UTC()
	c.LastSucceededAt = &t
	return nil
}

// Runs

type RunRepo struct{ s *Store }

var _ scrape.Repo = (*RunRepo)(nil)

func (s *Store) Runs() *RunRepo { return &RunRepo{s: s} }

func (r *RunRepo) Insert(ctx context.Context, run *scrape.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("insert_run"); err != nil {
		return err
	}
	for _, x := range r.s.runs {
		if x.ConfigID == run.ConfigID && x.StartedAt.Equal(run.StartedAt) {
			return repository.ErrConflict
		}
	}
	run.ID = r.s.id()
	cp := *run
	r.s.runs = append(r.s.runs, &cp)
	return nil
}

func (r *RunRepo) Latest(ctx context.Context, configID int64) (*scrape.Run, error) {
	list, err := r.ListByConfig(ctx, configID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// ListByConfig returns newest first.
func (r *RunRepo) ListByConfig(_ context.Context, configID int64, limit int) ([]*scrape.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*scrape.Run, 0)
	for i := len(r.s.runs) - 1; i >= 0; i-- {
		if x := r.s.runs[i]; x.ConfigID == configID {
			cp := *x
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prices

type PriceRepo struct{ s *Store }

var _ price.Repo = (*PriceRepo)(nil)

func (s *Store) Prices() *PriceRepo { return &PriceRepo{s: s} }

func (r *PriceRepo) Append(ctx context.Context, o *price.Observation) error {
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("append_observation"); err != nil {
		return err
	}
	for _, x := range r.s.obs {
		if x.ConfigID == o.ConfigID && x.RecordedAt.After(o.RecordedAt) {
			return repository.ErrOutOfOrder
		}
	}
	o.ID = r.s.id()
	cp := *o
	r.s.obs = append(r.s.obs, &cp)
	return nil
}

func (r *PriceRepo) Latest(_ context.Context, configID int64) (*price.Observation, error) {
	return r.latestWhere(configID, func(*price.Observation) bool { return true }), nil
}

func (r *PriceRepo) LatestAtOrAbove(_ context.Context, configID int64, target decimal.Decimal) (*price.Observation, error) {
	return r.latestWhere(configID, func(o *price.Observation) bool {
		return o.Price.GreaterThanOrEqual(target)
	}), nil
}

// latestWhere scans newest to oldest; insertion order is recorded_at order.
func (r *PriceRepo) latestWhere(configID int64, keep func(*price.Observation) bool) *price.Observation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.obs) - 1; i >= 0; i-- {
		x := r.s.obs[i]
		if x.ConfigID == configID && keep(x) {
			cp := *x
			return &cp
		}
	}
	return nil
}

func (r *PriceRepo) ListByConfig(_ context.Context, configID int64, limit int) ([]*price.Observation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*price.Observation, 0)
	for i := len(r.s.obs) - 1; i >= 0; i-- {
		if x := r.s.obs[i]; x.ConfigID == configID {
			cp := *x
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Notifications

type NotificationRepo struct{ s *Store }

var _ notification.Repo = (*NotificationRepo)(nil)

func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s: s} }

func (r *NotificationRepo) Create(ctx context.Context, n *notification.Record) error {
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("create_notification"); err != nil {
		return err
	}
	n.ID = r.s.id()
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	cp := *n
	r.s.notifs = append(r.s.notifs, &cp)
	return nil
}

func (r *NotificationRepo) ExistsAfter(_ context.Context, configID int64, since *time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, n := range r.s.notifs {
		if n.ConfigID != configID {
			continue
		}
		if since == nil || n.SentAt.After(*since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *NotificationRepo) ListByConfig(_ context.Context, configID int64, limit int) ([]*notification.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*notification.Record, 0)
	for i := len(r.s.notifs) - 1; i >= 0; i-- {
		if x := r.s.notifs[i]; x.ConfigID == configID {
			cp := *x
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Users

type UserRepo struct{ s *Store }

var _ user.Repo = (*UserRepo)(nil)

func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

func (r *UserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Outbox

type OutboxRepo struct{ s *Store }

var _ outbox.Repository = (*OutboxRepo)(nil)

func (s *Store) Outbox() *OutboxRepo { return &OutboxRepo{s: s} }

func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	unlock := r.s.write(ctx)
	defer unlock()
	if err := r.s.fault("outbox_enqueue"); err != nil {
		return err
	}
	if _, ok := r.s.outbox[key]; ok {
		return nil
	}
	now := time.Now().UTC()
	r.s.outbox[key] = &outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           append([]byte(nil), data...),
		Status:         outbox.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.outboxKeys = append(st.outboxKeys, key)
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	unlock := r.s.write(ctx)
	defer unlock()

	now := time.Now().UTC()
	cands := make([]*outbox.Message, 0)
	for _, m := range r.s.outbox {
		if m.Status == outbox.StatusCreated ||
			(m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-inProgressTTL))) {
			cands = append(cands, m)
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].CreatedAt.Before(cands[j].CreatedAt) })
	if batch > 0 && len(cands) > batch {
		cands = cands[:batch]
	}
	out := make([]outbox.Message, 0, len(cands))
	for _, m := range cands {
		m.Status = outbox.StatusInProgress
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	unlock := r.s.write(ctx)
	defer unlock()
	for _, k := range keys {
		if m, ok := r.s.outbox[k]; ok {
			m.Status = outbox.StatusSuccess
			m.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// Messages returns a snapshot of the outbox, for assertions.
func (r *OutboxRepo) Messages() []outbox.Message {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]outbox.Message, 0, len(r.s.outbox))
	for _, m := range r.s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdempotencyKey < out[j].IdempotencyKey })
	return out
}
