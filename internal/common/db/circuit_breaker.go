package db

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

type DBCircuitBreaker struct {
	name        string
	failures    atomic.Int32
	lastFailure atomic.Value
	threshold   int32
	timeout     time.Duration
	resetAfter  time.Duration
	ignored     []error
	log         *logger.Logger
}

func NewDBCircuitBreaker(name string, threshold int32, timeout, resetAfter time.Duration, log *logger.Logger) *DBCircuitBreaker {
	cb := &DBCircuitBreaker{
		name:       name,
		threshold:  threshold,
		timeout:    timeout,
		resetAfter: resetAfter,
		log:        log,
	}
	cb.lastFailure.Store(time.Time{})
	return cb
}

// Ignore registers errors that are expected outcomes (not found and the like)
// and must not count towards opening the circuit.
func (cb *DBCircuitBreaker) Ignore(errs ...error) *DBCircuitBreaker {
	cb.ignored = append(cb.ignored, errs...)
	return cb
}

func (cb *DBCircuitBreaker) isOpen() bool {
	if cb.failures.Load() < cb.threshold {
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(0)
		return false
	}

	lastFailure := cb.lastFailure.Load().(time.Time)
	if lastFailure.IsZero() {
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(0)
		return false
	}

	if time.Since(lastFailure) > cb.resetAfter {
		cb.reset()
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(0)
		return false
	}

	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(1)
	return true
}

func (cb *DBCircuitBreaker) isIgnored(err error) bool {
	for _, target := range cb.ignored {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (cb *DBCircuitBreaker) recordFailure() {
	cb.failures.Add(1)
	cb.lastFailure.Store(time.Now())
	metrics.CircuitBreakerFailures.WithLabelValues(cb.name).Inc()
	cb.log.Warnf("%s circuit breaker: failure recorded", cb.name)
}

func (cb *DBCircuitBreaker) reset() {
	cb.failures.Store(0)
	cb.lastFailure.Store(time.Time{})
}

func (cb *DBCircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if cb.isOpen() {
		cb.log.Warnf("%s circuit breaker: circuit is open, rejecting request", cb.name)
		return commonerrors.ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil {
		if cb.isIgnored(err) {
			return err
		}
		cb.recordFailure()
		return err
	}

	cb.reset()
	return nil
}
