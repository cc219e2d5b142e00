// Package retry re-runs transient provider failures with exponential
// backoff. Only network timeouts and retryable HTTP statuses are retried;
// everything else returns immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"go.uber.org/zap"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; it doubles each
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig suits short provider calls made inside a request deadline.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// statusError is implemented by provider API errors that carry an HTTP
// status code.
type statusError interface {
	HTTPStatus() int
}

// Retryable reports whether err is worth another attempt: a network
// timeout, or an HTTP 408, 429, or 5xx from a provider. Context errors are
// never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se statusError
	if errors.As(err, &se) {
		switch code := se.HTTPStatus(); {
		case code == 408, code == 429:
			return true
		case code >= 500 && code <= 599:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do runs fn until it succeeds, fails non-transiently, exhausts attempts,
// or ctx expires. op names the call in retry logs.
func Do[T any](ctx context.Context, cfg Config, op string, fn func(context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !Retryable(err) || attempt >= cfg.MaxAttempts-1 {
			break
		}

		zap.L().Warn("retrying provider call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		delay := backoff(attempt, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func backoff(attempt int, cfg Config) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}
