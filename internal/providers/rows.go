package providers

import (
	"sort"

	"voltio/internal/model"
)

// SortAndDedupe orders rows ascending by timestamp and drops rows whose
// timestamp repeats, keeping the first occurrence. Sources call this before
// returning so the Source contract holds regardless of upstream ordering.
func SortAndDedupe(rows []model.ObservationRow) []model.ObservationRow {
	if len(rows) < 2 {
		return rows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	out := rows[:1]
	for _, row := range rows[1:] {
		if row.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, row)
	}
	return out
}
