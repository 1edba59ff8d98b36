package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
)

// Policy is the retry policy shared by every Helix call.
type Policy struct {
	// MaxAttempts bounds the number of requests per call, including the first.
	MaxAttempts int
	// Base is the wait after the first failure. Each later wait doubles it.
	Base time.Duration
	// Retryable reports whether a response status is worth another attempt.
	// 401 and cursor 400s never reach it.
	Retryable func(status int) bool
}

// DefaultPolicy makes three attempts, waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Retryable: DefaultRetryable}
}

// DefaultRetryable retries every client or server error except 401,
// which is handled by refreshing the token instead.
func DefaultRetryable(status int) bool {
	return status >= 400 && status != http.StatusUnauthorized
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	return p
}

// backOff returns a fresh deterministic doubling schedule starting at Base.
func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.Base << 6
	return b
}

// options leave every wait to schedule, so backoff.Retry only counts attempts.
func (p Policy) options(notify backoff.Notify) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	}
}

// retryAfterError asks for a specific wait before the next attempt.
type retryAfterError struct {
	wait time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.wait)
}

// schedule tracks the wait before the next attempt and sleeps it on the
// injected clock.
type schedule struct {
	b    backoff.BackOff
	next time.Duration
}

func (p Policy) schedule() *schedule {
	b := p.backOff()
	b.Reset()
	return &schedule{b: b}
}

// failed records the wait owed after err. A server-provided wait restarts the
// doubling sequence.
func (s *schedule) failed(err error) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		s.next = ra.wait
		s.b.Reset()
		return
	}
	s.next = s.b.NextBackOff()
}

// sleep blocks for the pending wait, if any, or until ctx is done.
func (s *schedule) sleep(ctx context.Context, clock clockwork.Clock) error {
	d := s.next
	s.next = 0
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
