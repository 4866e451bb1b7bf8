package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//   - "*/5 * * * *"  every 5 minutes
//   - "0 3 * * *"    every day at 03:00
//   - "0 0 * * 1"    every Monday at midnight
type CronSchedule struct {
	raw      string
	loc      *time.Location
	minutes  fieldSet // 0-59
	hours    fieldSet // 0-23
	days     fieldSet // 1-31
	months   fieldSet // 1-12
	weekdays fieldSet // 0-6, 0 = Sunday
}

type fieldSet map[int]struct{}

var cronAliases = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

// ParseCron parses expr, evaluated in loc (UTC when nil).
// Supports *, */n, n, n-m, n-m/s and comma lists, plus @hourly/@daily/@weekly/@monthly.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw := strings.TrimSpace(expr)
	if alias, ok := cronAliases[raw]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", raw, len(fields))
	}

	cs := &CronSchedule{raw: raw, loc: loc}
	specs := []struct {
		name     string
		dst      *fieldSet
		min, max int
	}{
		{"minute", &cs.minutes, 0, 59},
		{"hour", &cs.hours, 0, 23},
		{"day", &cs.days, 1, 31},
		{"month", &cs.months, 1, 12},
		{"weekday", &cs.weekdays, 0, 6},
	}
	for i, spec := range specs {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", raw, spec.name, err)
		}
		*spec.dst = set
	}
	return cs, nil
}

// MustParseCron is ParseCron that panics on error.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	cs, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return cs
}

func parseField(field string, min, max int) (fieldSet, error) {
	set := make(fieldSet)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parsePart(part string, min, max int, set fieldSet) error {
	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	var lo, hi int
	switch {
	case part == "*":
		lo, hi = min, max
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err1, err2 error
		lo, err1 = strconv.Atoi(a)
		hi, err2 = strconv.Atoi(b)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid range %q", part)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid value %q", part)
		}
		lo, hi = v, v
		if step > 1 {
			hi = max
		}
	}
	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("%q out of range [%d-%d]", part, min, max)
	}
	for v := lo; v <= hi; v += step {
		set[v] = struct{}{}
	}
	return nil
}

// Next returns the first matching minute strictly after t.
// It returns the zero time if nothing matches within a year.
func (cs *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(cs.loc).Truncate(time.Minute).Add(time.Minute)

	const limit = 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if cs.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (cs *CronSchedule) matches(t time.Time) bool {
	_, m := cs.minutes[t.Minute()]
	_, h := cs.hours[t.Hour()]
	_, d := cs.days[t.Day()]
	_, mo := cs.months[int(t.Month())]
	_, wd := cs.weekdays[int(t.Weekday())]
	return m && h && d && mo && wd
}

func (cs *CronSchedule) String() string {
	return cs.raw
}
