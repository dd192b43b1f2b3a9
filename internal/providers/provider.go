package providers

import (
	"context"

	"voltio/internal/chunk"
	"voltio/internal/model"
)

// Source wraps one third-party time-series API. FetchRange performs the
// outbound call(s) for a single chunk; callers must hold a rate-limit slot
// before invoking it. Implementations return rows sorted ascending by
// timestamp with duplicate timestamps dropped (first occurrence kept).
type Source interface {
	Name() string
	MaxSpanDays() int
	FetchRange(ctx context.Context, entity model.Entity, r chunk.Range) ([]model.ObservationRow, error)
}
