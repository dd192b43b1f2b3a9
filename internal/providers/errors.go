package providers

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Error taxonomy shared by all sources. Callers classify with errors.Is:
// ErrAuth aborts the run, ErrRateLimited and ErrTransient are retried with
// backoff, ErrMalformed fails the chunk only.
var (
	ErrAuth        = errors.New("providers: credential missing or rejected")
	ErrRateLimited = errors.New("providers: rate limit exceeded")
	ErrTransient   = errors.New("providers: transient upstream failure")
	ErrMalformed   = errors.New("providers: response could not be parsed")
)

// ClassifyStatus maps an HTTP status code to the taxonomy, or nil for 2xx.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrTransient
	default:
		return ErrMalformed
	}
}

// ClassifyNetworkError folds transport-level failures into the taxonomy.
// Context cancellation is passed through so callers can stop cleanly.
func ClassifyNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ErrTransient
}

// Retryable reports whether the caller may retry after backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// SleepWithContext suspends for delay or until ctx is done.
func SleepWithContext(ctx context.Context, delay time.Duration) error {
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
