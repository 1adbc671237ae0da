// Package retry runs operations against rate-limited platform APIs with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is wrapped into the error returned once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. after, when positive, is the minimum wait
// the server asked for (e.g. a Retry-After header).
func Retryable(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, after: after}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy backs off exponentially from one second with jitter.
func DefaultPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.Multiplier = 2
			b.RandomizationFactor = 0.2
			b.MaxInterval = 30 * time.Second
			return b
		},
		Sleep: sleepContext,
	}
}

// NoDelay retries immediately. Used in tests.
func NoDelay(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the context is
// done, or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	b.Reset()
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if re.after > wait {
			wait = re.after
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %w", err, lastErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// RetryAfter parses a Retry-After header expressed in seconds.
func RetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// StatusError classifies an HTTP status: 429 and 5xx are retryable.
func StatusError(resp *http.Response, err error) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return Retryable(err, RetryAfter(resp.Header))
	}
	if resp.StatusCode >= 500 {
		return Retryable(err, 0)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
