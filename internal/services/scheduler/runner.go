package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
	"github.com/NordCoder/Pricerus/internal/domain/notification"
)

type Runner struct {
	Log   *zap.Logger
	UC    *Usecase
	Cfg   *config.SchedCfg
	Clock notification.Clock

	lastTick atomic.Int64
}

func New(log *zap.Logger, uc *Usecase, cfg *config.SchedCfg, clock notification.Clock) *Runner {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Runner{
		Log:   log.With(zap.String("component", "scheduler.runner")),
		UC:    uc,
		Cfg:   cfg,
		Clock: clock,
	}
}

// TriggerTick runs one tick at now outside the regular cadence.
func (r *Runner) TriggerTick(ctx context.Context, now time.Time) (TickReport, error) {
	return r.tick(ctx, now)
}

func (r *Runner) tick(ctx context.Context, now time.Time) (TickReport, error) {
	start := time.Now()
	rep, err := r.UC.Tick(ctx, now, r.Cfg.BatchLimit)
	r.lastTick.Store(start.UnixNano())
	mTicks.Inc()
	if err != nil {
		mErr.Inc()
		r.Log.Warn("tick error", zap.String("tick_id", rep.TickID), zap.Error(err))
	}
	if rep.Errors > 0 {
		mErr.Add(float64(rep.Errors))
	}
	if rep.Fetched > 0 {
		mFetched.Add(float64(rep.Fetched))
		mAdmitted.Add(float64(rep.Admitted))
		mDeferred.Add(float64(rep.Deferred))
		mClaimLost.Add(float64(rep.ClaimLost))
		r.Log.Debug("scheduled batch",
			zap.String("tick_id", rep.TickID),
			zap.Int("fetched", rep.Fetched),
			zap.Int("admitted", rep.Admitted),
			zap.Int("deferred", rep.Deferred),
			zap.Int("claim_lost", rep.ClaimLost),
		)
	}
	mLoopDur.Observe(time.Since(start).Seconds())
	return rep, err
}

// CheckAlive fails when the loop has not ticked for three periods.
func (r *Runner) CheckAlive(context.Context) error {
	last := r.lastTick.Load()
	if last == 0 {
		return fmt.Errorf("no tick yet")
	}
	if age := time.Since(time.Unix(0, last)); age > 3*r.Cfg.Tick {
		return fmt.Errorf("last tick %s ago", age.Truncate(time.Second))
	}
	return nil
}

// Run ticks until ctx is done, then drains the worker pool.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()
	defer r.UC.Dispatcher.Close()

	_, _ = r.tick(ctx, r.Clock.Now())

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("scheduler stopping, draining jobs", zap.Int("inflight", r.UC.Dispatcher.Inflight().Global()))
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.tick(ctx, r.Clock.Now())
		}
	}
}
