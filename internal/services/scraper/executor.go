package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/obs"
	"github.com/NordCoder/Pricerus/internal/obs/retry"
	"github.com/NordCoder/Pricerus/internal/repository/postgres"
)

type Notifier interface {
	MaybeNotify(ctx context.Context, configID int64, obsv *price.Observation, details notification.Details) (*notification.Record, error)
}

// Executor runs one claimed job to a terminal ScrapeRun. It never retries the
// scrape; a failed job waits for its next interval.
type Executor struct {
	Log       *zap.Logger
	Fetcher   PageFetcher
	Extractor PriceExtractor
	Tx        postgres.Transactor
	Runs      scrape.Repo
	Prices    price.Repo
	Configs   tracking.Repo
	Gate      Notifier
	Clock     notification.Clock

	// FetchTimeout bounds the fetch alone; store writes are not cut by it.
	FetchTimeout time.Duration
	StorePolicy  retry.Policy
}

func (e *Executor) finishedAt(started time.Time) time.Time {
	now := e.Clock.Now().UTC().Truncate(time.Microsecond)
	if now.Before(started) {
		return started
	}
	return now
}

func (e *Executor) Execute(ctx context.Context, job scrape.Job) (*scrape.Run, error) {
	cfg := job.Config
	ctx, span := otel.Tracer("scraper.executor").Start(ctx, "scraper.execute")
	defer span.End()
	span.SetAttributes(attribute.Int64("config.id", cfg.ID))

	log := obs.WithTrace(ctx, e.Log,
		zap.Int64("config_id", cfg.ID),
		zap.String("url", cfg.ProductURL),
	)

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, e.FetchTimeout)
	}
	page, err := e.Fetcher.Fetch(fetchCtx, cfg.ProductURL)
	cancel()
	if err != nil {
		return e.fail(ctx, log, job, fetchClass(err), scrape.StatusOf(err), err)
	}
	if IsChallengePage(page) {
		return e.fail(ctx, log, job, scrape.ClassBlocked, page.StatusCode, errors.New("challenge page"))
	}

	amount, err := e.Extractor.Extract(page)
	if err != nil {
		return e.fail(ctx, log, job, scrape.ClassExtraction, page.StatusCode, err)
	}
	// The crossing is judged on the value the store keeps.
	amount = price.Normalize(amount)
	var details notification.Details
	if te, ok := e.Extractor.(TitleExtractor); ok {
		details.Title = te.Title(page)
	}
	if ce, ok := e.Extractor.(CouponExtractor); ok {
		details.Coupon = ce.Coupon(page)
	}

	// The job deadline covers fetching only.
	storeCtx := context.WithoutCancel(ctx)
	finished := e.finishedAt(job.StartedAt)

	run, obsv, prior, err := e.record(storeCtx, job, amount, finished, page.StatusCode)
	if err != nil {
		return e.fail(storeCtx, log, job, scrape.ClassStore, page.StatusCode, err)
	}

	if err := e.Configs.MarkSucceeded(storeCtx, cfg.ID, finished); err != nil {
		log.Warn("mark succeeded failed", zap.Error(err))
	}

	log.Info("scrape succeeded",
		zap.String("price", amount.String()),
		zap.Int("status", page.StatusCode),
	)

	if price.Crossed(prior, amount, cfg.TargetPrice) {
		span.AddEvent("price.crossed")
		if _, err := e.Gate.MaybeNotify(storeCtx, cfg.ID, obsv, details); err != nil {
			log.Warn("notification gate",
				zap.String("class", string(scrape.ClassOf(err))),
				zap.Error(err),
			)
		}
	}
	return run, nil
}

// record writes the SUCCESS run and its observation atomically and returns
// the observation that preceded it.
func (e *Executor) record(ctx context.Context, job scrape.Job, amount decimal.Decimal, finished time.Time, code int) (*scrape.Run, *price.Observation, *price.Observation, error) {
	var (
		run   = scrape.Succeeded(job.Config.ID, job.StartedAt, finished, amount, code)
		obsv  *price.Observation
		prior *price.Observation
	)
	err := e.Tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		prior, err = e.Prices.Latest(txCtx, job.Config.ID)
		if err != nil {
			return fmt.Errorf("latest observation: %w", err)
		}
		if err := e.Runs.Insert(txCtx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		obsv = &price.Observation{
			ConfigID:   job.Config.ID,
			RunID:      run.ID,
			Price:      amount,
			RecordedAt: finished,
		}
		if err := e.Prices.Append(txCtx, obsv); err != nil {
			return fmt.Errorf("append observation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return run, obsv, prior, nil
}

func (e *Executor) fail(ctx context.Context, log *zap.Logger, job scrape.Job, class scrape.ErrorClass, code int, cause error) (*scrape.Run, error) {
	log.Warn("scrape failed",
		zap.String("class", string(class)),
		zap.Int("status", code),
		zap.Error(cause),
	)
	run, err := e.write(context.WithoutCancel(ctx), job, class, code)
	if err != nil {
		return nil, errors.Join(&scrape.Error{Class: class, StatusCode: code, Err: cause}, err)
	}
	return run, &scrape.Error{Class: class, StatusCode: code, Err: cause}
}

// RecordFailure writes a terminal run for a job that ended outside Execute's
// own error handling, e.g. a recovered panic.
func (e *Executor) RecordFailure(ctx context.Context, job scrape.Job, class scrape.ErrorClass, cause error) (*scrape.Run, error) {
	e.Log.Warn("scrape aborted",
		zap.Int64("config_id", job.Config.ID),
		zap.String("class", string(class)),
		zap.Error(cause),
	)
	return e.write(ctx, job, class, 0)
}

func (e *Executor) write(ctx context.Context, job scrape.Job, class scrape.ErrorClass, code int) (*scrape.Run, error) {
	var run *scrape.Run
	err := retry.Do(ctx, func() error {
		run = scrape.Failed(job.Config.ID, job.StartedAt, e.finishedAt(job.StartedAt), class, code)
		return e.Runs.Insert(ctx, run)
	}, e.StorePolicy)
	if err != nil {
		e.Log.Error("failed run not recorded; config retries after its interval",
			zap.Int64("config_id", job.Config.ID),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record failed run: %w", err)
	}
	return run, nil
}
