// Package marketcal answers whether a given date is a US equity trading day.
// It covers weekends and the fixed NYSE/Nasdaq full-day holidays, including
// observed shifts when a holiday lands on a weekend. Half days count as
// trading days.
package marketcal

import "time"

// IsTradingDay reports whether the exchange is open on the date of t.
// Only the calendar date matters; the time of day and zone are ignored
// beyond extracting year, month and day.
func IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !isHoliday(t.Year(), t.Month(), t.Day())
}

// NextTradingDay returns the first trading day strictly after t's date.
func NextTradingDay(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return d
		}
	}
}

func isHoliday(year int, month time.Month, day int) bool {
	for _, h := range holidays(year) {
		if h.Month() == month && h.Day() == day {
			return true
		}
	}
	return false
}

// holidays returns the observed full-day market holidays for a year.
func holidays(year int) []time.Time {
	hs := []time.Time{
		observed(year, time.January, 1),            // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Washington's Birthday
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		observed(year, time.July, 4),             // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),    // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),   // Thanksgiving
		observed(year, time.December, 25),                   // Christmas
	}
	if year >= 2022 {
		hs = append(hs, observed(year, time.June, 19)) // Juneteenth
	}
	return hs
}

// observed shifts a fixed-date holiday to Friday when it falls on Saturday
// and to Monday when it falls on Sunday. A January 1 on Saturday is not
// observed on December 31 of the prior year, matching exchange practice.
func observed(year int, month time.Month, day int) time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	switch d.Weekday() {
	case time.Saturday:
		if month == time.January && day == 1 {
			return d
		}
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// goodFriday is two days before Easter Sunday, computed with the
// anonymous Gregorian computus.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
