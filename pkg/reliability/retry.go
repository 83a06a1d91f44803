// Package reliability provides bounded retry and circuit breaking for
// backend calls.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/scheduler"
)

// RetryPolicy implements capped exponential backoff. The delay before retry
// k (1-based) is min(BaseDelay * Multiplier^(k-1), MaxDelay).
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the initial one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier defaults to 2 when not positive.
	Multiplier float64

	// Retryable classifies errors. Defaults to errors.IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the send policy: 2 retries, 100ms base, 500ms cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2,
	}
}

// Delay returns the backoff before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// MaxTotalDelay is the sum of every backoff the policy can incur.
func (p RetryPolicy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for k := 1; k <= p.MaxRetries; k++ {
		total += p.Delay(k)
	}
	return total
}

// permanentError stops Execute regardless of classification.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Execute returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Execute runs fn until it succeeds, fails permanently, or the retry budget
// is spent. Backoff sleeps go through clock so tests can use virtual time.
// fn receives the 0-based attempt number.
func (p RetryPolicy) Execute(ctx context.Context, clock scheduler.Clock, fn func(ctx context.Context, attempt int) error) error {
	if clock == nil {
		clock = scheduler.Real{}
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = taskerrors.IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || !retryable(err) {
			return err
		}
		lastErr = err
	}
	return &ExhaustedError{Attempts: p.MaxRetries + 1, Last: lastErr}
}
