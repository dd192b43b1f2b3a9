package collector

import (
	"time"

	"voltio/internal/chunk"
	"voltio/internal/model"
)

// expectedSlots returns the slot count for a chunk at the source's native
// resolution: hourly for electricity and commodity series, one per local
// calendar day for weather climatology.
func expectedSlots(source model.Source, r chunk.Range, loc *time.Location) int {
	if source == model.SourceAEMET {
		days := 0
		for cursor := r.Start.In(loc); cursor.Before(r.End.In(loc)); cursor = cursor.AddDate(0, 0, 1) {
			days++
		}
		return days
	}
	return chunk.HourlySlots(r, loc)
}

// Report summarizes validation of one chunk's rows.
type Report struct {
	Expected    int
	Received    int
	Kept        int
	Nulls       int
	OutOfWindow int
	Duplicates  int
	Implausible int
	Empty       bool
}

// Completeness is Kept over Expected, or 1 when nothing was expected.
func (r Report) Completeness() float64 {
	if r.Expected <= 0 {
		return 1
	}
	return float64(r.Kept) / float64(r.Expected)
}

// Chunk bounds are UTC midnights while upstream windows follow the
// local day, so a fetched day legitimately carries rows a few hours
// either side of the chunk. Rows within the slack are persisted and
// the upsert dedupes them across neighbouring chunks; only rows
// beyond it are dropped.
const windowSlack = 24 * time.Hour

// Plausible value windows per category. Outliers are counted, never dropped.
var plausibleRange = map[model.Category][2]float64{
	model.CategoryPrice:      {-500, 5000},
	model.CategoryProduction: {0, 1e6},
	model.CategoryDemand:     {0, 1e6},
	model.CategoryWeather:    {-60, 60},
	model.CategoryCommodity:  {0, 1e6},
}

// validateChunk drops rows far outside the chunk window and duplicate
// timestamps, then counts anomalies for logging. Rows arrive sorted;
// expected is the slot count for the source's native resolution. Kept
// counts only rows strictly inside the chunk, so completeness is not
// inflated by boundary rows belonging to a neighbouring chunk.
func validateChunk(entity model.Entity, r chunk.Range, expected int, rows []model.ObservationRow) ([]model.ObservationRow, Report) {
	report := Report{
		Expected: expected,
		Received: len(rows),
	}

	lo := r.Start.Add(-windowSlack)
	hi := r.End.Add(windowSlack)
	kept := rows[:0:0]
	var lastTS time.Time
	for _, row := range rows {
		if row.Timestamp.Before(lo) || !row.Timestamp.Before(hi) {
			report.OutOfWindow++
			continue
		}
		if len(kept) > 0 && row.Timestamp.Equal(lastTS) {
			report.Duplicates++
			continue
		}
		if row.Value == nil {
			report.Nulls++
		} else if window, ok := plausibleRange[entity.Category]; ok {
			if *row.Value < window[0] || *row.Value > window[1] {
				report.Implausible++
			}
		}
		kept = append(kept, row)
		lastTS = row.Timestamp
		if !row.Timestamp.Before(r.Start) && row.Timestamp.Before(r.End) {
			report.Kept++
		}
	}

	report.Empty = len(kept) == 0
	return kept, report
}
