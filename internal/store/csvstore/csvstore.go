// Package csvstore is the tabular-file persistence backend: one file per
// (entity, date-range) request plus a per-entity "latest" file holding the
// deduplicated union of everything collected for that entity.
package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jszwec/csvutil"

	"voltio/internal/model"
)

const dateLayout = "2006-01-02"

type record struct {
	Datetime   time.Time `csv:"datetime"`
	Value      *float64  `csv:"value"`
	EntityID   string    `csv:"entity_id"`
	EntityName string    `csv:"entity_name"`
	ValueMin   *float64  `csv:"value_min"`
	ValueMax   *float64  `csv:"value_max"`
	GeoID      *int64    `csv:"geo_id"`
	GeoName    string    `csv:"geo_name"`
	Bid        *float64  `csv:"bid"`
	Ask        *float64  `csv:"ask"`
}

type Writer struct {
	dir string
}

func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("csvstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir}, nil
}

// WriteRange writes rows for one collected range to
// <entity>_<start>_<end>.csv and folds them into <entity>_latest.csv.
// Zero rows is a no-op and returns 0.
func (w *Writer) WriteRange(entityID string, start, end time.Time, rows []model.ObservationRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	name := fmt.Sprintf("%s_%s_%s.csv", entityID, start.Format(dateLayout), end.Format(dateLayout))
	if err := writeFile(filepath.Join(w.dir, name), toRecords(rows)); err != nil {
		return 0, err
	}
	if err := w.mergeLatest(entityID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// LatestPath returns the location of the entity's deduplicated view.
func (w *Writer) LatestPath(entityID string) string {
	return filepath.Join(w.dir, entityID+"_latest.csv")
}

// ReadLatest loads the entity's latest file; a missing file is an empty
// result, not an error.
func (w *Writer) ReadLatest(entityID string) ([]model.ObservationRow, error) {
	file, err := os.Open(w.LatestPath(entityID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	decoder, err := csvutil.NewDecoder(csv.NewReader(file))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var records []record
	if err := decoder.Decode(&records); err != nil {
		return nil, err
	}

	rows := make([]model.ObservationRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, model.ObservationRow{
			EntityID:   rec.EntityID,
			EntityName: rec.EntityName,
			Timestamp:  rec.Datetime,
			Value:      rec.Value,
			ValueMin:   rec.ValueMin,
			ValueMax:   rec.ValueMax,
			GeoID:      rec.GeoID,
			GeoName:    rec.GeoName,
			Bid:        rec.Bid,
			Ask:        rec.Ask,
		})
	}
	return rows, nil
}

// ReplaceLatest overwrites the latest file with exactly rows, sorted by
// timestamp. The exporter uses it to rebuild views from the database.
func (w *Writer) ReplaceLatest(entityID string, rows []model.ObservationRow) error {
	ordered := make([]model.ObservationRow, len(rows))
	copy(ordered, rows)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return writeFileAtomic(w.LatestPath(entityID), toRecords(ordered))
}

// mergeLatest rewrites the latest file as the union of its current content
// and rows, keyed by timestamp with the new rows winning.
func (w *Writer) mergeLatest(entityID string, rows []model.ObservationRow) error {
	existing, err := w.ReadLatest(entityID)
	if err != nil {
		return err
	}

	merged := make(map[int64]model.ObservationRow, len(existing)+len(rows))
	for _, row := range existing {
		merged[row.Timestamp.UTC().Unix()] = row
	}
	for _, row := range rows {
		merged[row.Timestamp.UTC().Unix()] = row
	}

	ordered := make([]model.ObservationRow, 0, len(merged))
	for _, row := range merged {
		ordered = append(ordered, row)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	return writeFileAtomic(w.LatestPath(entityID), toRecords(ordered))
}

func toRecords(rows []model.ObservationRow) []record {
	records := make([]record, 0, len(rows))
	for _, row := range rows {
		records = append(records, record{
			Datetime:   row.Timestamp,
			Value:      row.Value,
			EntityID:   row.EntityID,
			EntityName: row.EntityName,
			ValueMin:   row.ValueMin,
			ValueMax:   row.ValueMax,
			GeoID:      row.GeoID,
			GeoName:    row.GeoName,
			Bid:        row.Bid,
			Ask:        row.Ask,
		})
	}
	return records
}

func writeFile(path string, records []record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := encodeRecords(file, records); err != nil {
		return err
	}
	return file.Close()
}

// writeFileAtomic writes to a temp file and renames so readers never see a
// half-written latest view.
func writeFileAtomic(path string, records []record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encodeRecords(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeRecords(dst io.Writer, records []record) error {
	csvWriter := csv.NewWriter(dst)
	encoder := csvutil.NewEncoder(csvWriter)
	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
