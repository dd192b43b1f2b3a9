// Package ratelimit paces outbound API requests with a sliding window of
// issuance timestamps. It is advisory only: Acquire sleeps, it never
// rejects.
package ratelimit

import (
	"context"
	"time"
)

// Limiter enforces at most maxRequests issuances per trailing window.
// The zero value is unusable; use New. A nil *Limiter performs no pacing.
type Limiter struct {
	maxRequests int
	window      time.Duration
	issued      []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       sleepWithContext,
	}
}

// NewWithClock is New with an injected clock and sleeper, for tests.
func NewWithClock(maxRequests int, window time.Duration, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Limiter {
	limiter := New(maxRequests, window)
	if limiter == nil {
		return nil
	}
	if now != nil {
		limiter.now = now
	}
	if sleep != nil {
		limiter.sleep = sleep
	}
	return limiter
}

// Acquire blocks until issuing one more request keeps the trailing window
// within budget, then records the issuance. Callers are expected to be
// sequential; the limiter is not safe for concurrent use.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}

	now := l.now()
	l.dropStale(now)

	if len(l.issued) >= l.maxRequests {
		oldest := l.issued[0]
		wait := l.window - now.Sub(oldest)
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		now = l.now()
		l.dropStale(now)
	}

	l.issued = append(l.issued, now)
	return nil
}

func (l *Limiter) dropStale(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.issued) && !l.issued[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.issued = append(l.issued[:0], l.issued[idx:]...)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
