package schedule

import (
	"errors"
	"testing"
	"time"

	"rollcall/attendance-server/internal/model"
)

// mondayAt returns a known Monday (2024-02-19) at the given clock time.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2024, time.February, 19, hour, minute, 0, 0, time.UTC)
}

func TestInSession(t *testing.T) {
	entry := model.ScheduleEntry{
		CourseID:   "101",
		CourseName: "Signals",
		Days:       []string{"Monday"},
		StartTime:  "09:00",
		EndTime:    "10:00",
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "mid window", now: mondayAt(9, 30), want: true},
		{name: "at start inclusive", now: mondayAt(9, 0), want: true},
		{name: "at end inclusive", now: mondayAt(10, 0), want: true},
		{name: "after window", now: mondayAt(10, 30), want: false},
		{name: "before window", now: mondayAt(8, 59), want: false},
		{name: "wrong weekday", now: mondayAt(9, 30).AddDate(0, 0, 1), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InSession(entry, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("InSession at %v = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestInSession_WeekdayCaseInsensitive(t *testing.T) {
	entry := model.ScheduleEntry{
		CourseID:  "101",
		Days:      []string{"monday"},
		StartTime: "09:00",
		EndTime:   "10:00",
	}

	got, err := InSession(entry, mondayAt(9, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("lowercase weekday name should still match")
	}
}

func TestInSession_MalformedClockSurfacesError(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
	}{
		{name: "missing colon", start: "0900", end: "10:00"},
		{name: "hour out of range", start: "09:00", end: "25:00"},
		{name: "minute out of range", start: "09:61", end: "10:00"},
		{name: "not a number", start: "ab:cd", end: "10:00"},
		{name: "empty", start: "", end: "10:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := model.ScheduleEntry{
				CourseID:  "101",
				Days:      []string{"Monday"},
				StartTime: tt.start,
				EndTime:   tt.end,
			}

			_, err := InSession(entry, mondayAt(9, 30))
			if err == nil {
				t.Fatal("expected InvalidScheduleError, got nil")
			}
			var schedErr *InvalidScheduleError
			if !errors.As(err, &schedErr) {
				t.Errorf("expected *InvalidScheduleError, got %T: %v", err, err)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("start_time", "23:59")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Hour != 23 || c.Minute != 59 {
		t.Errorf("ParseClock(23:59) = %+v", c)
	}
	if c.Minutes() != 23*60+59 {
		t.Errorf("Minutes() = %d", c.Minutes())
	}
}
