package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 2 * time.Second
)

// RetryPolicy is the bounded budget for best-effort and lookup calls.
type RetryPolicy struct {
	Attempts uint64
	Delay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts with a fixed 2s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return retry.WithMaxRetries(attempts-1, retry.NewConstant(delay))
}

// Run calls fn until it succeeds, fails with a non-transient error, the
// budget is spent or ctx is done.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// WithRetry runs an authorized call under the retry budget. All attempts
// share op, so the auth retry is spent at most once.
func WithRetry[T any](ctx context.Context, p RetryPolicy, op *Operation, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := Call(ctx, op, fn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// Rewind seeks r back to the start for another upload attempt. It reports
// false when r cannot be replayed.
func Rewind(r io.Reader) bool {
	s, ok := r.(io.Seeker)
	if !ok {
		return false
	}
	_, err := s.Seek(0, io.SeekStart)
	return err == nil
}
