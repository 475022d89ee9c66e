package pipeline

import (
	"testing"
	"time"
)

func TestSchedule_Next(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 30, 20, 0, time.UTC) // Wednesday
	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 15, 10, 31, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2025, 1, 15, 13, 0, 0, 0, time.UTC)},
		{"30 4 * * 0", time.Date(2025, 1, 19, 4, 30, 0, 0, time.UTC)},
		{"0,45 10 15 1 *", time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		s, err := ParseCron(c.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", c.expr, err)
		}
		got, err := s.Next(base)
		if err != nil {
			t.Fatalf("Next(%q): %v", c.expr, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("Next(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestParseCron_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded, want error", expr)
		}
	}
}

func TestSchedule_NoMatch(t *testing.T) {
	s, err := ParseCron("0 0 31 2 *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	if _, err := s.Next(time.Now()); err == nil {
		t.Error("Feb 31 should never match")
	}
}
