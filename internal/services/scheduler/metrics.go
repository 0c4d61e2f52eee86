package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total", Help: "Scheduler ticks executed",
	})
	mFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_configs_fetched_total", Help: "Due tracking configs fetched from the store",
	})
	mAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_dispatched_total", Help: "Jobs claimed and handed to the worker pool",
	})
	mDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_deferred_total", Help: "Due configs left unclaimed because a ceiling was saturated",
	})
	mClaimLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_claims_lost_total", Help: "Conditional claims that matched no row",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_errors_total", Help: "Errors in scheduler loop",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
	mInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_jobs_inflight", Help: "Jobs currently queued or running",
	})
	mRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total", Help: "Finished scrape runs by outcome and error class",
	}, []string{"outcome", "class"})
	mPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_job_panics_total", Help: "Jobs that panicked and were recovered",
	})
	mJobDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_job_duration_seconds", Help: "Wall time of one scrape job",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	})
)
