package chunk

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("chunk: invalid range")

// Range is a half-open date sub-range [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return fmt.Sprintf("%s/%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// Split breaks [start, end) into ordered, contiguous sub-ranges no longer
// than maxSpanDays each. The union of the returned ranges is exactly
// [start, end); the last range may be shorter than maxSpanDays.
func Split(start, end time.Time, maxSpanDays int) ([]Range, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if maxSpanDays < 1 {
		return nil, fmt.Errorf("%w: max span %d days", ErrInvalidRange, maxSpanDays)
	}

	span := time.Duration(maxSpanDays) * 24 * time.Hour
	ranges := make([]Range, 0, 1)
	cursor := start
	for cursor.Before(end) {
		next := cursor.Add(span)
		if next.After(end) {
			next = end
		}
		ranges = append(ranges, Range{Start: cursor, End: next})
		cursor = next
	}
	return ranges, nil
}

// HourlySlots returns the number of hourly observations expected in r when
// timestamps are interpreted in loc. Days crossing a DST transition
// legitimately contribute 23 or 25 slots.
func HourlySlots(r Range, loc *time.Location) int {
	start := wallClock(r.Start, loc)
	end := wallClock(r.End, loc)
	if !start.Before(end) {
		return 0
	}
	return int(end.Sub(start) / time.Hour)
}

// wallClock reinterprets the civil date and time of t in loc.
func wallClock(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	return time.Date(year, month, day, hour, minute, sec, 0, loc)
}
