// Package timeutil provides calendar-date utilities.
// Reading activity is dated in the reader's local calendar, so most of the
// engine works with Date (a civil day without clock or zone) instead of time.Time.
package timeutil

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of a Date.
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Date is a calendar day. The zero value means "not set" and is distinct from
// every real day, 1970-01-01 included.
// Dates are comparable and ordered, and subtracting two dates yields whole days.
type Date struct {
	days int64 // days since 1970-01-01
	set  bool
}

// NewDate builds a Date from its components. Out-of-range values are normalized
// the same way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{days: floorDiv(t.Unix(), secondsPerDay), set: true}
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

// Today returns the current calendar day in loc according to now.
func Today(now time.Time, loc *time.Location) Date {
	return DateOf(now, loc)
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// MustParseDate is ParseDate that panics. Intended for tests and static tables.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight of the day in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	u := time.Unix(d.days*secondsPerDay, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{days: d.days + int64(n), set: d.set}
}

// Sub returns d - other in whole days.
func (d Date) Sub(other Date) int {
	return int(d.days - other.days)
}

func (d Date) Before(other Date) bool { return d.days < other.days }
func (d Date) After(other Date) bool  { return d.days > other.days }
func (d Date) Equal(other Date) bool  { return d.days == other.days }

// IsZero reports whether d was never set.
func (d Date) IsZero() bool { return !d.set }

// floorDiv rounds towards negative infinity so days before 1970 stay whole.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// StartOfWeek returns the Monday of d's week.
func (d Date) StartOfWeek() Date {
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDays(-(wd - 1))
}

// StartOfMonth returns the first day of d's month.
func (d Date) StartOfMonth() Date {
	t := d.Time(time.UTC)
	return NewDate(t.Year(), t.Month(), 1)
}

// String formats the date as "YYYY-MM-DD", or "" when unset.
func (d Date) String() string {
	if !d.set {
		return ""
	}
	return d.Time(time.UTC).Format(DateLayout)
}

// MarshalJSON implements json.Marshaler. An unset date is null.
func (d Date) MarshalJSON() ([]byte, error) {
	if !d.set {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler (used by YAML and query binding).
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is a half-open range of days [From, To). The zero DateRange is
// unbounded and contains every day.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// IsUnbounded reports whether r is the zero range.
func (r DateRange) IsUnbounded() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether From <= d < To.
func (r DateRange) Contains(d Date) bool {
	if r.IsUnbounded() {
		return true
	}
	return !d.Before(r.From) && d.Before(r.To)
}

// Days returns the number of days covered by the range.
func (r DateRange) Days() int {
	if !r.To.After(r.From) {
		return 0
	}
	return r.To.Sub(r.From)
}

// IsValid reports whether the range is unbounded or non-empty.
func (r DateRange) IsValid() bool {
	if r.IsUnbounded() {
		return true
	}
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
