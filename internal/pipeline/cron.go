package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed five-field cron expression
// "minute hour day-of-month month day-of-week". Fields accept "*", lists
// ("1,15"), ranges ("1-5") and steps ("*/10", "0-30/5"). Day-of-week 0 is
// Sunday.
type Schedule struct {
	expr   string
	fields [5]cronField
}

type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.values[v]
}

var cronBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week
}

var cronNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// ParseCron parses expr.
func ParseCron(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}
	s := Schedule{expr: expr}
	for i, p := range parts {
		f, err := parseCronField(p, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("parsing %s field: %w", cronNames[i], err)
		}
		s.fields[i] = f
	}
	return s, nil
}

func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	f := cronField{values: make(map[int]bool)}
	for _, item := range strings.Split(field, ",") {
		item = strings.TrimSpace(item)
		rangePart, step := item, 1
		if r, s, ok := strings.Cut(item, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", s)
			}
			rangePart, step = r, n
		}

		from, to := lo, hi
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", rangePart)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", rangePart)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", rangePart, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", item, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.fields[0].matches(t.Minute()) &&
		s.fields[1].matches(t.Hour()) &&
		s.fields[2].matches(t.Day()) &&
		s.fields[3].matches(int(t.Month())) &&
		s.fields[4].matches(int(t.Weekday()))
}

// Next returns the first minute strictly after after that matches, searching
// up to one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year for %q", s.expr)
}

func (s Schedule) String() string { return s.expr }
