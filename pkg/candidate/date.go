package candidate

import (
	"fmt"
	"strings"
	"time"
)

// Date is a civil calendar date with no time-of-day or zone
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the civil date of t in t's location
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts "2025/01/10" or "2025-01-10"
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	layout := "2006-01-02"
	if strings.Contains(s, "/") {
		layout = "2006/01/02"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, &InvalidInputError{Tokens: []string{s}, Reason: "date must look like YYYY/MM/DD"}
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At returns d at the given minute of day in loc
func (d Date) At(minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, minute/60, minute%60, 0, 0, loc)
}

// AddDays returns d shifted by n days, normalizing month and year
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	return d.Compare(o) < 0
}

func (d Date) After(o Date) bool {
	return d.Compare(o) > 0
}

// Compare returns -1, 0 or +1
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return sign(d.Year - o.Year)
	case d.Month != o.Month:
		return sign(int(d.Month) - int(o.Month))
	default:
		return sign(d.Day - o.Day)
	}
}

// IsZero reports whether d is the zero Date
func (d Date) IsZero() bool {
	return d == Date{}
}

// String renders the ISO form used in callback data
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Short renders "01/10 (Fri)"
func (d Date) Short() string {
	return fmt.Sprintf("%02d/%02d (%s)", int(d.Month), d.Day, d.Weekday().String()[:3])
}

// DaysBetween counts the dates in [from, to], zero when to precedes from
func DaysBetween(from, to Date) int {
	if to.Before(from) {
		return 0
	}
	return int(to.In(time.UTC).Sub(from.In(time.UTC))/(24*time.Hour)) + 1
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
