package internal

import (
	"fmt"
	"time"
)

// DayLayout is the calendar-day key format shared by completions and queries.
const DayLayout = "2006-01-02"

// DayKey formats t as the calendar day it falls on in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ParseDay parses a day key into local midnight of that day.
func ParseDay(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected yyyy-mm-dd", ErrValidation, key)
	}
	return t, nil
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AddDays shifts a valid day key by n calendar days.
func AddDays(key string, n int) string {
	t, err := time.Parse(DayLayout, key)
	if err != nil {
		return key
	}
	return t.AddDate(0, 0, n).Format(DayLayout)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b string) int {
	ta, errA := time.Parse(DayLayout, a)
	tb, errB := time.Parse(DayLayout, b)
	if errA != nil || errB != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}

// SameDay compares calendar days in loc, not instants.
func SameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// ISOWeekday maps t's weekday to 1=Monday..7=Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
