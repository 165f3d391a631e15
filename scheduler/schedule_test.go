package scheduler

import (
	"testing"
	"time"
)

func TestNewCron_Valid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every minute", "* * * * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"hourly", "0 * * * *"},
		{"weekdays at 9am", "0 9 * * 1-5"},
		{"range with step", "0-30/10 * * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCron(tt.expr); err != nil {
				t.Fatalf("NewCron(%q) returned error: %v", tt.expr, err)
			}
		})
	}
}

func TestNewCron_Macros(t *testing.T) {
	for _, m := range []string{"@yearly", "@monthly", "@weekly", "@daily", "@hourly"} {
		t.Run(m, func(t *testing.T) {
			if _, err := NewCron(m); err != nil {
				t.Fatalf("NewCron(%q) returned error: %v", m, err)
			}
		})
	}
}

func TestNewCron_Invalid(t *testing.T) {
	tests := []string{"* * *", "61 * * * *", "* * * * 9"}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := NewCron(expr); err == nil {
				t.Fatalf("expected NewCron(%q) to fail", expr)
			}
		})
	}
}

func TestCron_NextHourly(t *testing.T) {
	c, err := NewCron("0 * * * *")
	if err != nil {
		t.Fatalf("NewCron returned error: %v", err)
	}
	from := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	next := c.Next(from)
	want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}
}

func TestInterval_Next(t *testing.T) {
	iv, err := NewInterval(5 * time.Minute)
	if err != nil {
		t.Fatalf("NewInterval returned error: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := from.Add(5 * time.Minute)
	if got := iv.Next(from); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestInterval_RejectsNonPositive(t *testing.T) {
	if _, err := NewInterval(0); err != ErrInvalidInterval {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestOneShot_FiresOnceThenStops(t *testing.T) {
	os, err := NewOneShotAfter(time.Minute)
	if err != nil {
		t.Fatalf("NewOneShotAfter returned error: %v", err)
	}
	before := time.Now()
	if next := os.Next(before); next.IsZero() {
		t.Fatal("expected a due activation before the target time")
	}
	after := before.Add(2 * time.Minute)
	if next := os.Next(after); !next.IsZero() {
		t.Fatalf("expected zero time after the target has passed, got %v", next)
	}
}
