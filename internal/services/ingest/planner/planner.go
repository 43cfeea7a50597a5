// Package planner chunks a backfill range into ingestion windows.
package planner

import (
	"time"

	"tidemark/internal/core/marketcal"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/services/ingest/domain"
)

// Policy selects how a [from, to) range is chunked.
type Policy string

const (
	// TradingDay yields one window per US trading day, skipping
	// weekends and exchange holidays.
	TradingDay Policy = "trading_day"

	// CalendarMonth yields windows aligned to month starts. A bound
	// inside a month extends to the month end, except the final
	// window which ends exactly at to.
	CalendarMonth Policy = "calendar_month"

	// SingleWindow yields the whole range as one window.
	SingleWindow Policy = "single_window"
)

// Plan chunks [from, to) under the given policy. The returned windows
// are sorted, non-overlapping, and never empty; their union covers
// every instant of the range the policy considers ingestible.
func Plan(from, to time.Time, policy Policy) ([]domain.Window, error) {
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return nil, perr.InvalidArgf("backfill range start %s is not before end %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	switch policy {
	case TradingDay:
		return planTradingDays(from, to), nil
	case CalendarMonth:
		return planCalendarMonths(from, to), nil
	case SingleWindow:
		return []domain.Window{{Start: from, End: to}}, nil
	default:
		return nil, perr.InvalidArgf("unknown backfill policy %q", policy)
	}
}

func planTradingDays(from, to time.Time) []domain.Window {
	var ws []domain.Window
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(to) {
		next := day.AddDate(0, 0, 1)
		if marketcal.IsTradingDay(day) {
			w := domain.Window{Start: maxTime(day, from), End: minTime(next, to)}
			if w.Start.Before(w.End) {
				ws = append(ws, w)
			}
		}
		day = next
	}
	return ws
}

func planCalendarMonths(from, to time.Time) []domain.Window {
	var ws []domain.Window
	start := from
	for start.Before(to) {
		end := monthStartAfter(start)
		if !end.Before(to) {
			// final window ends exactly at the range bound
			end = to
		}
		ws = append(ws, domain.Window{Start: start, End: end})
		start = end
	}
	return ws
}

// monthStartAfter returns the first instant of the month after t.
func monthStartAfter(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// ForProvider maps a provider and entity type to its window policy.
// Bars chunk by trading day, bulk range endpoints by calendar month,
// snapshot sources take the range whole.
func ForProvider(source, entityType string) Policy {
	switch {
	case entityType == "bars":
		return TradingDay
	case source == "reddit" || source == "csvfile":
		return SingleWindow
	default:
		return CalendarMonth
	}
}
