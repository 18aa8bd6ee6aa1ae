// Package backoff holds the retry schedule shared by the hub poll loop and the
// generation job poller.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Kind selects how the delay grows with the attempt number.
type Kind string

const (
	KindLinear      Kind = "linear"
	KindExponential Kind = "exponential"
)

// Policy is a retry schedule. Max is the number of attempts a Budget or Retry
// allows; zero means unlimited for Budget and one attempt for Retry.
type Policy struct {
	Kind Kind          `yaml:"kind"`
	Base time.Duration `yaml:"base"`
	Cap  time.Duration `yaml:"cap"`
	Max  int           `yaml:"max"`
}

// Delay returns the wait before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.Kind == KindExponential {
		return Exponential(attempt, p.Base, p.Cap)
	}
	return Linear(attempt, p.Base, p.Cap)
}

// Linear returns min(base*attempt, cap). A non-positive cap means no cap.
func Linear(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if limit > 0 && (d > limit || d/time.Duration(attempt) != base) {
		return limit
	}
	return d
}

// Exponential returns min(base*2^(attempt-1), cap). A non-positive cap means no cap.
func Exponential(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := base << uint(shift)
	if limit > 0 && (d > limit || d < base) {
		return limit
	}
	return d
}

// Budget counts attempts of one logical operation against a Policy.
type Budget struct {
	policy  Policy
	attempt int
}

// NewBudget returns a fresh budget.
func NewBudget(p Policy) *Budget {
	return &Budget{policy: p}
}

// Next records a failed attempt and returns the delay to wait before trying
// again. ok is false once the budget is spent.
func (b *Budget) Next() (delay time.Duration, ok bool) {
	b.attempt++
	if b.policy.Max > 0 && b.attempt > b.policy.Max {
		return 0, false
	}
	return b.policy.Delay(b.attempt), true
}

// Reset starts the schedule over after a success.
func (b *Budget) Reset() { b.attempt = 0 }

// Attempt is the number of failures recorded since the last Reset.
func (b *Budget) Attempt() int { return b.attempt }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry calls fn until it succeeds, returns a Permanent error, or p.Max
// attempts have been made. Delays between attempts follow p. A nil sleep uses
// Sleep. The last error is returned with any Permanent marker removed.
func Retry(ctx context.Context, p Policy, sleep SleepFunc, fn func(ctx context.Context) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	max := p.Max
	if max < 1 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt == max {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}
