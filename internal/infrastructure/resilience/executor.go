package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor how to treat a failed attempt.
type ErrorClassification struct {
	Retryable     bool // schedule another attempt
	RecordFailure bool // charge the attempt to the operation's breaker
}

// ErrorClassifier maps an error to its classification. A nil classifier
// falls back to defaultClassifier.
type ErrorClassifier func(err error) ErrorClassification

// defaultClassifier never retries and charges every error to the
// breaker, so unclassified operations fail fast but still trip.
func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}

// softError marks an attempt whose failure the classifier excused from
// breaker accounting. It never escapes Execute.
type softError struct {
	err error
}

func (s *softError) Error() string { return s.err.Error() }
func (s *softError) Unwrap() error { return s.err }

// Executor runs operations with a bounded, jittered retry schedule and
// one lazily created circuit breaker per operation name. Every attempt
// is an individual breaker sample, so a storm of retries opens the
// breaker as fast as a storm of independent calls.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	cfg.normalize()
	return &Executor{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs fn under the breaker registered for operation, retrying
// while the classifier says the error is retryable and attempts remain.
// The context is checked before every attempt and interrupts a pending
// backoff. An open breaker ends the schedule immediately.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier ErrorClassifier) error {
	if classifier == nil {
		classifier = defaultClassifier
	}
	breaker := e.breaker(operation)

	var lastErr error
	delay := e.cfg.BaseDelay
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := breaker.Execute(func() (struct{}, error) {
			callErr := fn(ctx)
			if callErr != nil && !classifier(callErr).RecordFailure {
				return struct{}{}, &softError{err: callErr}
			}
			return struct{}{}, callErr
		})
		if err == nil {
			return nil
		}
		if IsCircuitOpen(err) {
			return err
		}
		var soft *softError
		if errors.As(err, &soft) {
			err = soft.err
		}
		lastErr = err

		if !classifier(err).Retryable || attempt == e.cfg.MaxAttempts {
			return err
		}
		e.logRetry(operation, attempt, delay, err)
		if !e.pause(ctx, delay) {
			return ctx.Err()
		}
		delay = e.nextDelay(delay)
	}
	return lastErr
}

// pause waits for the delay plus up to a quarter of jitter, returning
// false when the context ends first.
func (e *Executor) pause(ctx context.Context, delay time.Duration) bool {
	delay += time.Duration(rand.Int64N(int64(delay)/4 + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * e.cfg.DelayFactor)
	if next > e.cfg.MaxDelay {
		next = e.cfg.MaxDelay
	}
	return next
}

func (e *Executor) logRetry(operation string, attempt int, delay time.Duration, err error) {
	if e.cfg.Logger == nil {
		return
	}
	e.cfg.Logger.Debug("retrying operation",
		slog.String("operation", operation),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

func (e *Executor) breaker(operation string) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	cfg := e.cfg
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: cfg.BreakerProbes,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinSamples {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailRatio
		},
		IsSuccessful: func(err error) bool {
			var soft *softError
			return err == nil || errors.As(err, &soft)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("breaker state changed",
					slog.String("operation", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}
		},
	})
	e.breakers[operation] = breaker
	return breaker
}

// IsCircuitOpen reports whether err came from a breaker rejecting the
// call rather than from the call itself.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
