// Package dates handles the calendar days ("2006-01-02") that key inventory
// records and bound price intervals.
package dates

import (
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Parse parses a calendar day in UTC.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

// Today is the calendar day of now, taken in now's location.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar day string by n days.
func AddDays(s string, n int) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// Range expands the inclusive interval [start, end] into one string per day.
// An end before start yields an empty slice.
func Range(start, end string) ([]string, error) {
	from, err := Parse(start)
	if err != nil {
		return nil, err
	}
	to, err := Parse(end)
	if err != nil {
		return nil, err
	}
	var out []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, Format(d))
	}
	return out, nil
}

// Overlaps reports whether the closed intervals [aStart, aEnd] and
// [bStart, bEnd] intersect. Inputs must already be valid days; the layout
// orders lexicographically.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// Within reports whether day lies in the half-open window [from, to).
func Within(day string, from, to time.Time) bool {
	t, err := Parse(day)
	if err != nil {
		return false
	}
	return !t.Before(from) && t.Before(to)
}
