package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && time.Duration(d) > b.Max {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying whatever the policy says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total retry attempts (including final).",
	}, []string{"name"})
	retryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_results_total",
		Help: "Finished retry.Do calls by result: ok, exhausted, permanent, canceled.",
	}, []string{"name", "result"})
	retryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_duration_seconds",
		Help:    "Total time spent inside retry.Do (success or fail).",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

// Do calls fn until it succeeds, the policy gives up or ctx is done.
// The returned error is the last one fn produced, or ctx.Err().
func Do(ctx context.Context, fn func() error, p Policy) error {
	start := time.Now()
	name := p.Name
	if name == "" {
		name = "default"
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	isRetryable := p.Retryable
	if isRetryable == nil {
		isRetryable = func(err error) bool { return err != nil }
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExpoJitter{Base: 100 * time.Millisecond, Max: 5 * time.Second}
	}

	span := trace.SpanFromContext(ctx)
	done := func(result string, err error) error {
		retryResults.WithLabelValues(name, result).Inc()
		retryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return err
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		retryAttempts.WithLabelValues(name).Inc()
		if err == nil {
			return done("ok", nil)
		}
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		if span.IsRecording() {
			span.AddEvent("retry.attempt", trace.WithAttributes(
				attribute.String("retry.policy", name),
				attribute.Int("retry.attempt", i+1),
				attribute.String("error", err.Error()),
			))
		}
		if IsPermanent(err) || !isRetryable(err) {
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return done("permanent", err)
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(backoff.Next(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return done("canceled", ctx.Err())
		case <-t.C:
		}
	}
	if p.OnExhaust != nil {
		p.OnExhaust(err)
	}
	return done("exhausted", err)
}
