package store

import (
	"context"
	"time"

	"voltio/internal/chunk"
	"voltio/internal/model"
)

// Store is the persistence sink plus the catalog and audit surfaces the
// collector needs. UpsertObservations is keyed on (entity id, timestamp):
// existing rows are overwritten, new rows inserted, zero rows is a no-op.
type Store interface {
	UpsertObservations(ctx context.Context, rows []model.ObservationRow) (int, error)
	UpsertEntities(ctx context.Context, entities []model.Entity) error
	ListEntities(ctx context.Context, source model.Source, maxPriority int, onlyActive bool) ([]model.Entity, error)
	LatestTimestamp(ctx context.Context, entityID string) (time.Time, bool, error)
	AppendLog(ctx context.Context, entry model.CollectionLog) error
	Close() error
}

// Checkpoints is the durable record of completed (entity, chunk) work.
// MarkDone is idempotent. Implementations must survive process restarts.
type Checkpoints interface {
	IsDone(ctx context.Context, entityID string, r chunk.Range) (bool, error)
	MarkDone(ctx context.Context, entityID string, r chunk.Range) error
	AllDone(ctx context.Context, entityID string, ranges []chunk.Range) (bool, error)
	Reset(ctx context.Context) error
}

type NopStore struct{}

func (s *NopStore) UpsertObservations(ctx context.Context, rows []model.ObservationRow) (int, error) {
	_ = ctx
	return len(rows), nil
}

func (s *NopStore) UpsertEntities(ctx context.Context, entities []model.Entity) error {
	_ = ctx
	_ = entities
	return nil
}

func (s *NopStore) ListEntities(ctx context.Context, source model.Source, maxPriority int, onlyActive bool) ([]model.Entity, error) {
	_ = ctx
	_ = source
	_ = maxPriority
	_ = onlyActive
	return nil, nil
}

func (s *NopStore) LatestTimestamp(ctx context.Context, entityID string) (time.Time, bool, error) {
	_ = ctx
	_ = entityID
	return time.Time{}, false, nil
}

func (s *NopStore) AppendLog(ctx context.Context, entry model.CollectionLog) error {
	_ = ctx
	_ = entry
	return nil
}

func (s *NopStore) Close() error {
	return nil
}
