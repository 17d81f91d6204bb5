package schedule

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date key format used in storage keys, ledger
// entries, and wire payloads.
const DateLayout = "2006-01-02"

// ParseDate parses a canonical YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DateKey formats a time as the canonical date key, dropping any clock part.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Midnight truncates a time to UTC midnight.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysInclusive counts the days in [start, end], both included. A reversed
// range counts zero.
func DaysInclusive(start, end time.Time) int {
	s, e := Midnight(start), Midnight(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// DatesBetween enumerates every date in [start, end] at UTC midnight.
func DatesBetween(start, end time.Time) []time.Time {
	n := DaysInclusive(start, end)
	if n == 0 {
		return nil
	}
	dates := make([]time.Time, 0, n)
	for d := Midnight(start); !d.After(Midnight(end)); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// MonthSpan returns the first and last date of a month.
func MonthSpan(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}
