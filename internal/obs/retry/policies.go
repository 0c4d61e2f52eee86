package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/repository"
)

func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "outbox_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("outbox retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox retries exhausted", zap.Error(err))
			}
		},
	}
}

// StoreFallbackPolicy covers the FAILED/STORE run written after a history
// transaction failed. Short: the next claim retries the config anyway.
func StoreFallbackPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "store_fallback",
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 50 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil &&
				!errors.Is(err, repository.ErrConflict) &&
				!errors.Is(err, context.Canceled)
		},
		OnExhaust: func(err error) {
			if log != nil {
				log.Error("store fallback exhausted", zap.Error(err))
			}
		},
	}
}
