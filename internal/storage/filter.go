package storage

import (
	"context"
	"fmt"
	"time"
)

// FilterKind selects how a dashboard-style query resolves to a range.
type FilterKind string

const (
	FilterRecent    FilterKind = "recent"
	FilterToday     FilterKind = "today"
	FilterYesterday FilterKind = "yesterday"
	FilterThisWeek  FilterKind = "week"
	FilterCustom    FilterKind = "custom"
)

// DateFilter is the query-boundary form of the presentation date
// filters. Custom carries its own bounds; the calendar kinds resolve
// against a reference time in that time's location. Weeks start on
// Monday.
type DateFilter struct {
	Kind  FilterKind
	Start int64 // epoch millis, Custom only
	End   int64 // epoch millis, Custom only
}

// ParseFilter builds a DateFilter from query-string style inputs.
func ParseFilter(kind string, start, end int64) (DateFilter, error) {
	switch FilterKind(kind) {
	case FilterRecent, "":
		return DateFilter{Kind: FilterRecent}, nil
	case FilterToday, FilterYesterday, FilterThisWeek:
		return DateFilter{Kind: FilterKind(kind)}, nil
	case FilterCustom:
		if end < start {
			return DateFilter{}, fmt.Errorf("invalid custom range: end %d before start %d", end, start)
		}
		return DateFilter{Kind: FilterCustom, Start: start, End: end}, nil
	default:
		return DateFilter{}, fmt.Errorf("unknown filter %q", kind)
	}
}

// Range resolves the filter to inclusive millisecond bounds. recent
// reports that no range applies (query by recency instead).
func (f DateFilter) Range(now time.Time) (startMs, endMs int64, recent bool) {
	switch f.Kind {
	case FilterToday:
		start := startOfDay(now)
		return start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli() - 1, false
	case FilterYesterday:
		start := startOfDay(now).AddDate(0, 0, -1)
		return start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli() - 1, false
	case FilterThisWeek:
		day := startOfDay(now)
		// Monday start; Go's Sunday is 0.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset).UnixMilli(), now.UnixMilli(), false
	case FilterCustom:
		return f.Start, f.End, false
	default:
		return 0, 0, true
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EventsByFilter resolves f against the current time and runs the
// matching query.
func (s *Store) EventsByFilter(ctx context.Context, f DateFilter, limit int) ([]CapturedEvent, error) {
	startMs, endMs, recent := f.Range(time.Now())
	if recent {
		return s.RecentEvents(ctx, limit)
	}
	return s.EventsByRange(ctx, startMs, endMs)
}
