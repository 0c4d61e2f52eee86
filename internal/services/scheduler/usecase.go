package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/obs"
)

// TickReport summarizes one pass of the loop.
type TickReport struct {
	TickID    string    `json:"tick_id"`
	At        time.Time `json:"at"`
	Fetched   int       `json:"fetched"`
	Admitted  int       `json:"admitted"`
	Deferred  int       `json:"deferred"`
	ClaimLost int       `json:"claim_lost"`
	Errors    int       `json:"errors"`
}

type Usecase struct {
	Log        *zap.Logger
	Repo       tracking.Repo
	Dispatcher *Dispatcher
}

func NewUC(log *zap.Logger, repo tracking.Repo, d *Dispatcher) *Usecase {
	return &Usecase{Log: log.With(zap.String("component", "scheduler.uc")), Repo: repo, Dispatcher: d}
}

// Tick fetches due configs, admits them against the inflight ceilings, claims
// them in the store and hands them to the pool. It does not wait for the jobs.
// Configs denied admission stay unclaimed and are picked up by a later tick.
func (u *Usecase) Tick(ctx context.Context, now time.Time, limit int) (TickReport, error) {
	if limit <= 0 {
		limit = 100
	}
	// The store keeps microseconds; claims compare stamps for equality.
	now = now.UTC().Truncate(time.Microsecond)
	rep := TickReport{TickID: uuid.NewString(), At: now}

	tr := otel.Tracer("scheduler.uc")
	ctxTick, span := tr.Start(ctx, "scheduler.tick",
		trace.WithAttributes(
			attribute.Int("batch.limit", limit),
			attribute.String("tick.id", rep.TickID),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctxTick, u.Log, zap.String("tick_id", rep.TickID))

	due, err := u.Repo.FetchDue(ctxTick, now, limit)
	if err != nil {
		span.RecordError(err)
		rep.Errors++
		return rep, fmt.Errorf("fetch due: %w", err)
	}
	rep.Fetched = len(due)
	span.SetAttributes(attribute.Int("batch.fetched", len(due)))

	inflight := u.Dispatcher.Inflight()
	for _, c := range due {
		if !u.Dispatcher.Accepting() {
			return rep, fmt.Errorf("tick %s: %w", rep.TickID, ErrDispatcherClosed)
		}
		// Rows from FetchDue may be stale; Claim is authoritative.
		if !IsDue(c, now) {
			continue
		}
		if !inflight.Acquire(c) {
			rep.Deferred++
			continue
		}

		claimed, err := u.Repo.Claim(ctxTick, c.ID, c.LastAttemptedAt, now)
		if err != nil {
			inflight.Release(c)
			rep.Errors++
			span.RecordError(err)
			log.Warn("claim failed", zap.Int64("config_id", c.ID), zap.Error(err))
			continue
		}
		if !claimed {
			inflight.Release(c)
			rep.ClaimLost++
			continue
		}

		stamp := now
		c.LastAttemptedAt = &stamp
		job := scrape.Job{Config: c, StartedAt: now, TickID: rep.TickID}
		if err := u.Dispatcher.Submit(job); err != nil {
			rep.Errors++
			log.Warn("submit failed", zap.Int64("config_id", c.ID), zap.Error(err))
			u.Dispatcher.Abandon(ctxTick, job, err)
			continue
		}
		rep.Admitted++
	}

	span.SetAttributes(
		attribute.Int("batch.admitted", rep.Admitted),
		attribute.Int("batch.deferred", rep.Deferred),
		attribute.Int("batch.claim_lost", rep.ClaimLost),
	)
	return rep, nil
}
