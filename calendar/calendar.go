// Package calendar projects stored, year-agnostic birthdays onto the current
// cycle in a user's time zone.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Window is the length of a birthday. It is a fixed duration from local
// midnight, so a birthday on a DST transition day still lasts 24 hours.
const Window = 24 * time.Hour

// DefaultTimeZone is used for records that never chose a zone.
const DefaultTimeZone = "America/New_York"

// Phase classifies this year's occurrence relative to now.
type Phase int

const (
	// Future means this year's occurrence has not started.
	Future Phase = iota
	// Active means now lies inside the occurrence window.
	Active
	// Past means this year's occurrence has fully elapsed and the next one
	// falls in the following year.
	Past
)

func (p Phase) String() string {
	switch p {
	case Future:
		return "future"
	case Active:
		return "active"
	case Past:
		return "past"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Occurrence is a birthday projected onto a concrete cycle.
type Occurrence struct {
	// Start is local midnight of the current or next occurrence.
	Start time.Time
	// Phase of this year's occurrence at the projection instant.
	Phase Phase
}

// IsActive reports whether the projection instant lies in [Start, Start+Window).
func (o Occurrence) IsActive() bool {
	return o.Phase == Active
}

// End is the exclusive end of the occurrence window.
func (o Occurrence) End() time.Time {
	return o.Start.Add(Window)
}

// Project returns the occurrence of birthday that is active at now or, when
// none is, the next one to start. Only the month and day of birthday are used.
func Project(birthday time.Time, loc *time.Location, now time.Time) Occurrence {
	if loc == nil {
		loc = time.UTC
	}
	birthday = birthday.UTC()
	month, day := birthday.Month(), birthday.Day()
	year := now.In(loc).Year()

	// A window that opened late last year can still be running.
	if prev := occurrenceIn(year-1, month, day, loc); now.Before(prev.Add(Window)) {
		return Occurrence{Start: prev, Phase: Active}
	}

	candidate := occurrenceIn(year, month, day, loc)
	switch {
	case now.Before(candidate):
		return Occurrence{Start: candidate, Phase: Future}
	case now.Before(candidate.Add(Window)):
		return Occurrence{Start: candidate, Phase: Active}
	default:
		return Occurrence{Start: occurrenceIn(year+1, month, day, loc), Phase: Past}
	}
}

// occurrenceIn is local midnight of month/day in year. February 29 is observed
// on February 28 in common years.
func occurrenceIn(year int, month time.Month, day int, loc *time.Location) time.Time {
	if month == time.February && day == 29 && !IsLeapYear(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// IsLeapYear reports whether year has a February 29.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// LoadZone resolves an IANA zone name, falling back to DefaultTimeZone for an
// empty name.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// ParseBirthday validates a day/month/year triple and returns the date at UTC
// midnight. Month is an English month name, case-insensitive.
func ParseBirthday(day int, month string, year int) (time.Time, error) {
	m, ok := ParseMonth(month)
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q", month)
	}
	if day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("day %d out of range", day)
	}
	date := time.Date(year, m, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow, e.g. April 31 becomes May 1.
	if date.Year() != year || date.Month() != m || date.Day() != day {
		return time.Time{}, fmt.Errorf("%s %d does not exist in %d", m, day, year)
	}
	return date, nil
}

// ParseMonth looks up an English month name.
func ParseMonth(name string) (time.Month, bool) {
	name = strings.TrimSpace(name)
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, true
		}
	}
	return 0, false
}

// Format renders the month and day of a stored birthday, e.g. "March 15".
// The stored value is a UTC date, so no zone conversion is applied.
func Format(birthday time.Time) string {
	return birthday.UTC().Format("January 2")
}
