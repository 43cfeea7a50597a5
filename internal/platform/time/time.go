// Package time contains time related helpers
package time

import "time"

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// eastern is the US exchange local zone, falling back to a fixed
// offset when the zoneinfo database is unavailable
var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}()

// Eastern returns the US exchange local zone
func Eastern() *time.Location { return eastern }

// EasternToUTC reinterprets a wall-clock time quoted in US Eastern as UTC.
// Provider feeds quote publish times in exchange local time without an offset
func EasternToUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), eastern).UTC()
}

// DayUTC truncates t to midnight UTC
func DayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
