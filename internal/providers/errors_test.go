package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voltio/internal/model"
)

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, ClassifyStatus(http.StatusOK))
	assert.NoError(t, ClassifyStatus(http.StatusNoContent))
	assert.ErrorIs(t, ClassifyStatus(http.StatusUnauthorized), ErrAuth)
	assert.ErrorIs(t, ClassifyStatus(http.StatusForbidden), ErrAuth)
	assert.ErrorIs(t, ClassifyStatus(http.StatusTooManyRequests), ErrRateLimited)
	assert.ErrorIs(t, ClassifyStatus(http.StatusInternalServerError), ErrTransient)
	assert.ErrorIs(t, ClassifyStatus(http.StatusServiceUnavailable), ErrTransient)
	assert.ErrorIs(t, ClassifyStatus(http.StatusBadRequest), ErrMalformed)
}

func TestClassifyNetworkErrorPassesThroughCancellation(t *testing.T) {
	assert.ErrorIs(t, ClassifyNetworkError(context.Canceled), context.Canceled)
	assert.ErrorIs(t, ClassifyNetworkError(context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, ClassifyNetworkError(errors.New("connection refused")), ErrTransient)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrRateLimited))
	assert.True(t, Retryable(ErrTransient))
	assert.False(t, Retryable(ErrAuth))
	assert.False(t, Retryable(ErrMalformed))
	assert.False(t, Retryable(nil))
}

func TestSortAndDedupe(t *testing.T) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := []model.ObservationRow{
		{Timestamp: base.Add(2 * time.Hour), Value: model.Value(3)},
		{Timestamp: base, Value: model.Value(1)},
		{Timestamp: base, Value: model.Value(99)},
		{Timestamp: base.Add(time.Hour), Value: model.Value(2)},
	}

	out := SortAndDedupe(rows)
	assert.Len(t, out, 3)
	assert.True(t, out[0].Timestamp.Equal(base))
	assert.True(t, out[2].Timestamp.Equal(base.Add(2*time.Hour)))
	// First occurrence wins for duplicate timestamps.
	assert.Equal(t, 1.0, *out[0].Value)
}
