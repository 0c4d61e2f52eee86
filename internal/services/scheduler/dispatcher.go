package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/obs"
)

// Executor performs one scrape and persists its terminal run.
type Executor interface {
	Execute(ctx context.Context, job scrape.Job) (*scrape.Run, error)
	// RecordFailure writes a terminal non-success run for job.
	RecordFailure(ctx context.Context, job scrape.Job, class scrape.ErrorClass, cause error) (*scrape.Run, error)
}

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher is a fixed pool of workers fed through a channel. Capacity
// equals the global ceiling, so a job that passed Inflight.Acquire never
// blocks on Submit.
type Dispatcher struct {
	log        *zap.Logger
	exec       Executor
	inflight   *Inflight
	jobTimeout time.Duration

	jobs    chan scrape.Job
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(log *zap.Logger, exec Executor, inflight *Inflight, jobTimeout time.Duration) *Dispatcher {
	size := inflight.limits.Global
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		log:        log.With(zap.String("component", "scheduler.dispatcher")),
		exec:       exec,
		inflight:   inflight,
		jobTimeout: jobTimeout,
		jobs:       make(chan scrape.Job, size),
	}
}

// Start launches the workers. Jobs outlive ctx cancellation so that a
// shutdown drains them; each is still bounded by the job timeout.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < cap(d.jobs); i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.jobs {
				d.run(base, job)
			}
		}()
	}
}

func (d *Dispatcher) Inflight() *Inflight { return d.inflight }

// Submit hands a claimed job to the pool. The caller must hold an inflight
// slot for job.Config; it is released when the job finishes.
func (d *Dispatcher) Submit(job scrape.Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.inflight.Release(job.Config)
		return ErrDispatcherClosed
	}
	d.pending.Add(1)
	mInflight.Inc()
	d.jobs <- job
	return nil
}

// Accepting reports whether Submit still takes jobs.
func (d *Dispatcher) Accepting() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed
}

// Abandon writes a terminal run for a claimed job the pool refused, so the
// claim stamp is never left without a run.
func (d *Dispatcher) Abandon(ctx context.Context, job scrape.Job, cause error) {
	if _, err := d.exec.RecordFailure(context.WithoutCancel(ctx), job, scrape.ClassInternal, cause); err != nil {
		d.log.Error("abandoned job not recorded",
			zap.Int64("config_id", job.Config.ID),
			zap.Error(err),
		)
	}
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() { d.pending.Wait() }

// Close stops accepting jobs and waits for the queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) run(base context.Context, job scrape.Job) {
	start := time.Now()
	defer func() {
		d.inflight.Release(job.Config)
		mInflight.Dec()
		mJobDur.Observe(time.Since(start).Seconds())
		d.pending.Done()
	}()

	ctx, cancel := base, context.CancelFunc(func() {})
	if d.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.jobTimeout)
	}
	defer cancel()

	ctx, span := otel.Tracer("scheduler.dispatcher").Start(ctx, "scheduler.job",
		trace.WithAttributes(
			attribute.Int64("config.id", job.Config.ID),
			attribute.String("tick.id", job.TickID),
		),
	)
	defer span.End()

	log := obs.WithTrace(ctx, d.log,
		zap.Int64("config_id", job.Config.ID),
		zap.String("tick_id", job.TickID),
	)

	run, err := d.safeExecute(ctx, job)
	if err != nil {
		span.RecordError(err)
		log.Warn("job error", zap.String("class", string(scrape.ClassOf(err))), zap.Error(err))
	}
	if run != nil {
		mRuns.WithLabelValues(string(run.Outcome), string(run.ErrorClass)).Inc()
		span.SetAttributes(attribute.String("run.outcome", string(run.Outcome)))
	}
}

// safeExecute turns a panic in the executor into a FAILED/INTERNAL run.
func (d *Dispatcher) safeExecute(ctx context.Context, job scrape.Job) (run *scrape.Run, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		mPanics.Inc()
		cause := fmt.Errorf("panic: %v", p)
		d.log.Error("job panicked",
			zap.Int64("config_id", job.Config.ID),
			zap.Any("panic", p),
			zap.ByteString("stack", debug.Stack()),
		)
		run, err = d.recordPanic(ctx, job, cause)
	}()
	return d.exec.Execute(ctx, job)
}

func (d *Dispatcher) recordPanic(ctx context.Context, job scrape.Job, cause error) (run *scrape.Run, err error) {
	defer func() {
		if p := recover(); p != nil {
			run, err = nil, fmt.Errorf("record failure panicked: %v: %w", p, cause)
		}
	}()
	run, rerr := d.exec.RecordFailure(context.WithoutCancel(ctx), job, scrape.ClassInternal, cause)
	if rerr != nil {
		return run, errors.Join(cause, rerr)
	}
	return run, scrape.NewError(scrape.ClassInternal, cause)
}
