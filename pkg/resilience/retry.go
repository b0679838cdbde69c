package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig shapes the backoff between attempts. Zero fields take the
// values of DefaultRetry.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultRetry suits background work such as Kafka handlers, where a slow
// recovery costs nothing but lag.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialDelay:   100 * time.Millisecond,
	MaxDelay:       10 * time.Second,
	Multiplier:     2,
	JitterFraction: 0.1,
}

// PartitionRetry returns the policy for one partition of a query fan-out.
// The whole fan-out waits for its slowest partition, so delays stay short
// and wide jitter keeps coordinators from retrying in step.
func PartitionRetry(attempts int, initial time.Duration) RetryConfig {
	if initial <= 0 {
		initial = 20 * time.Millisecond
	}
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialDelay:   initial,
		MaxDelay:       8 * initial,
		Multiplier:     2,
		JitterFraction: 0.5,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultRetry.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = max(DefaultRetry.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultRetry.Multiplier
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = DefaultRetry.JitterFraction
	}
	return c
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one another attempt cannot fix, such as a
// partition rejecting the request itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether Retry gives up on err at once: errors
// marked Permanent and an open circuit.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrCircuitOpen)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx ends or
// cfg.MaxAttempts calls have failed.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s failed %d times: %w", name, attempt, err)
		}
		delay := cfg.Backoff(attempt)
		logger.Warn("attempt failed", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "next_delay", delay, "error", err)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s abandoned after %d attempts: %w", name, attempt, errors.Join(ctx.Err(), err))
		}
	}
}

// Backoff returns the delay after failed attempt n, counting from 1.
func (c RetryConfig) Backoff(n int) time.Duration {
	c = c.withDefaults()
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(n-1))
	d += d * c.JitterFraction * (2*rand.Float64() - 1)
	d = min(d, float64(c.MaxDelay))
	if d <= 0 {
		return c.InitialDelay
	}
	return time.Duration(d)
}
