// Package schedule validates class session windows. A class is "in
// session" when the wall clock falls inside the scheduled start/end
// window on one of the scheduled weekdays, at minute granularity.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rollcall/attendance-server/internal/model"
)

// InvalidScheduleError reports a malformed schedule clock value. Bad
// configuration is surfaced, never silently defaulted.
type InvalidScheduleError struct {
	Field string
	Value string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %s %q: want HH:MM", e.Field, e.Value)
}

// Clock is a time of day with minute granularity.
type Clock struct {
	Hour   int
	Minute int
}

// Minutes returns the clock as minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock parses an "HH:MM" string. Hours run 0-23, minutes 0-59.
func ParseClock(field, value string) (Clock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return Clock{}, &InvalidScheduleError{Field: field, Value: value}
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, &InvalidScheduleError{Field: field, Value: value}
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, &InvalidScheduleError{Field: field, Value: value}
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// InSession reports whether now falls inside the entry's scheduled
// window: weekday listed and start <= time-of-day <= end, bounds
// inclusive. Malformed start or end times return an
// InvalidScheduleError.
func InSession(entry model.ScheduleEntry, now time.Time) (bool, error) {
	start, err := ParseClock("start_time", entry.StartTime)
	if err != nil {
		return false, err
	}
	end, err := ParseClock("end_time", entry.EndTime)
	if err != nil {
		return false, err
	}

	if !entry.MeetsOn(now.Weekday()) {
		return false, nil
	}

	minute := now.Hour()*60 + now.Minute()
	return start.Minutes() <= minute && minute <= end.Minutes(), nil
}
