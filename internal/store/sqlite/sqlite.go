package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"voltio/internal/chunk"
	"voltio/internal/model"
	"voltio/internal/store"
)

const timeLayout = time.RFC3339

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) UpsertObservations(ctx context.Context, rows []model.ObservationRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			entity_id, entity_name, datetime, value, value_min, value_max,
			geo_id, geo_name, bid, ask, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, datetime)
		DO UPDATE SET
			entity_name = excluded.entity_name,
			value = excluded.value,
			value_min = excluded.value_min,
			value_max = excluded.value_max,
			geo_id = excluded.geo_id,
			geo_name = excluded.geo_name,
			bid = excluded.bid,
			ask = excluded.ask,
			ingested_at = excluded.ingested_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range rows {
		row := rows[i]
		if row.IngestedAt.IsZero() {
			row.IngestedAt = now
		}
		_, err = stmt.ExecContext(
			ctx,
			row.EntityID,
			row.EntityName,
			row.Timestamp.UTC().Format(timeLayout),
			nullableFloat(row.Value),
			nullableFloat(row.ValueMin),
			nullableFloat(row.ValueMax),
			nullableInt(row.GeoID),
			row.GeoName,
			nullableFloat(row.Bid),
			nullableFloat(row.Ask),
			row.IngestedAt.Format(timeLayout),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) UpsertEntities(ctx context.Context, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (id, name, short_name, source, category, priority, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			short_name = excluded.short_name,
			source = excluded.source,
			category = excluded.category,
			priority = excluded.priority,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeLayout)
	for _, entity := range entities {
		_, err = stmt.ExecContext(
			ctx,
			entity.ID,
			entity.Name,
			entity.ShortName,
			string(entity.Source),
			string(entity.Category),
			entity.Priority,
			entity.IsActive,
			now,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListEntities(ctx context.Context, source model.Source, maxPriority int, onlyActive bool) ([]model.Entity, error) {
	query := `
		SELECT id, name, short_name, source, category, priority, is_active
		FROM entities
		WHERE source = ? AND priority <= ?
	`
	if onlyActive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY priority ASC, id ASC"

	dbRows, err := s.db.QueryContext(ctx, query, string(source), maxPriority)
	if err != nil {
		return nil, err
	}
	defer dbRows.Close()

	entities := make([]model.Entity, 0)
	for dbRows.Next() {
		var entity model.Entity
		var src, category string
		if err := dbRows.Scan(&entity.ID, &entity.Name, &entity.ShortName, &src, &category, &entity.Priority, &entity.IsActive); err != nil {
			return nil, err
		}
		entity.Source = model.Source(src)
		entity.Category = model.Category(category)
		entities = append(entities, entity)
	}
	return entities, dbRows.Err()
}

func (s *Store) LatestTimestamp(ctx context.Context, entityID string) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(datetime) FROM observations WHERE entity_id = ?`, entityID,
	).Scan(&raw)
	if err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	parsed, err := time.Parse(timeLayout, raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

// ObservationsForEntity returns every stored row for one entity, ordered
// by timestamp. The exporter uses it to rebuild CSV views.
func (s *Store) ObservationsForEntity(ctx context.Context, entityID string) ([]model.ObservationRow, error) {
	dbRows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, entity_name, datetime, value, value_min, value_max,
		       geo_id, geo_name, bid, ask, ingested_at
		FROM observations
		WHERE entity_id = ?
		ORDER BY datetime ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer dbRows.Close()

	rows := make([]model.ObservationRow, 0)
	for dbRows.Next() {
		var row model.ObservationRow
		var ts, ingested string
		var value, valueMin, valueMax, bid, ask sql.NullFloat64
		var geoID sql.NullInt64
		if err := dbRows.Scan(&row.EntityID, &row.EntityName, &ts, &value, &valueMin, &valueMax,
			&geoID, &row.GeoName, &bid, &ask, &ingested); err != nil {
			return nil, err
		}
		if row.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, err
		}
		if row.IngestedAt, err = time.Parse(timeLayout, ingested); err != nil {
			return nil, err
		}
		row.Value = fromNullFloat(value)
		row.ValueMin = fromNullFloat(valueMin)
		row.ValueMax = fromNullFloat(valueMax)
		row.Bid = fromNullFloat(bid)
		row.Ask = fromNullFloat(ask)
		if geoID.Valid {
			row.GeoID = &geoID.Int64
		}
		rows = append(rows, row)
	}
	return rows, dbRows.Err()
}

func (s *Store) AppendLog(ctx context.Context, entry model.CollectionLog) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_logs (
			entity_id, chunk_start, chunk_end, records_stored, status,
			error_message, execution_time_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.EntityID,
		entry.ChunkStart.UTC().Format(timeLayout),
		entry.ChunkEnd.UTC().Format(timeLayout),
		entry.RecordsStored,
		string(entry.Status),
		entry.Error,
		entry.ExecutionTime.Seconds(),
		createdAt.Format(timeLayout),
	)
	return err
}

// Checkpoint methods satisfy store.Checkpoints over the same database, so
// chunk completion shares the store's transactional guarantees.

func (s *Store) IsDone(ctx context.Context, entityID string, r chunk.Range) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM checkpoints WHERE entity_id = ? AND chunk_start = ? AND chunk_end = ?
	`, entityID, r.Start.UTC().Format(timeLayout), r.End.UTC().Format(timeLayout)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkDone(ctx context.Context, entityID string, r chunk.Range) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (entity_id, chunk_start, chunk_end, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id, chunk_start, chunk_end) DO NOTHING
	`,
		entityID,
		r.Start.UTC().Format(timeLayout),
		r.End.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) AllDone(ctx context.Context, entityID string, ranges []chunk.Range) (bool, error) {
	for _, r := range ranges {
		done, err := s.IsDone(ctx, entityID, r)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints`)
	return err
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			short_name TEXT,
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_source ON entities (source, priority);`,
		`CREATE TABLE IF NOT EXISTS observations (
			entity_id TEXT NOT NULL,
			entity_name TEXT,
			datetime TEXT NOT NULL,
			value REAL,
			value_min REAL,
			value_max REAL,
			geo_id INTEGER,
			geo_name TEXT,
			bid REAL,
			ask REAL,
			ingested_at TEXT NOT NULL,
			PRIMARY KEY (entity_id, datetime)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_observations_datetime ON observations (datetime);`,
		`CREATE TABLE IF NOT EXISTS collection_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			chunk_start TEXT NOT NULL,
			chunk_end TEXT NOT NULL,
			records_stored INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			execution_time_seconds REAL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_entity ON collection_logs (entity_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			entity_id TEXT NOT NULL,
			chunk_start TEXT NOT NULL,
			chunk_end TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			PRIMARY KEY (entity_id, chunk_start, chunk_end)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func fromNullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	return &value.Float64
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.Checkpoints = (*Store)(nil)
)
