package model

import (
	"strings"
	"time"
)

// BeaconTarget identifies the fixed classroom beacon an attendance
// attempt is verifying against. Immutable once the attempt starts.
type BeaconTarget struct {
	Address    string `json:"address"`
	CourseID   string `json:"course_id"`
	CourseName string `json:"course_name"`
}

// Matches reports whether the observed hardware address belongs to this
// target. Addresses compare case-insensitively.
func (t BeaconTarget) Matches(address string) bool {
	return strings.EqualFold(t.Address, address)
}

// ScanObservation is a single RSSI sighting published by a scanner.
// Observations are transient and never persisted.
type ScanObservation struct {
	ScannerID string    `json:"scanner_id"`
	Address   string    `json:"address"`
	RSSI      int       `json:"rssi"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the attendance outcome for one course on one day.
type Status string

const (
	StatusAttended Status = "attended"
	StatusAbsent   Status = "absent"
)

// AttendanceRecord is one attendance event. Two records describe the
// same attendance when they share a course and a calendar date.
type AttendanceRecord struct {
	CourseID   string    `json:"course_id"`
	CourseName string    `json:"course_name"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
}

// Key returns the deduplication key: course plus calendar date of the
// record timestamp.
func (r AttendanceRecord) Key() RecordKey {
	return RecordKey{CourseID: r.CourseID, Date: r.Timestamp.Format("2006-01-02")}
}

// RecordKey identifies one (course, day) attendance slot.
type RecordKey struct {
	CourseID string
	Date     string
}

// ScheduleEntry describes a recurring class meeting: the weekdays it
// meets and its daily start/end clock times ("HH:MM", no date).
type ScheduleEntry struct {
	CourseID   string   `json:"course_id"`
	CourseName string   `json:"course_name"`
	Days       []string `json:"days"`
	StartTime  string   `json:"start_time"`
	EndTime    string   `json:"end_time"`
}

// MeetsOn reports whether the entry is scheduled for the given weekday.
// Weekday names compare case-insensitively.
func (e ScheduleEntry) MeetsOn(day time.Weekday) bool {
	for _, d := range e.Days {
		if strings.EqualFold(d, day.String()) {
			return true
		}
	}
	return false
}
