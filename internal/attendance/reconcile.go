// Package attendance merges historical attendance, the day's expected
// schedule, and pending local writes into one consistent view, and
// commits new attendance events against the durable store with the
// local cache as offline fallback.
package attendance

import (
	"context"
	"errors"
	"time"

	"rollcall/attendance-server/internal/model"
)

// ErrStoreUnavailable is returned (possibly wrapped) when a durable
// read or write fails. Local state remains authoritative until
// connectivity returns; failed writes are logged, never dropped
// silently.
var ErrStoreUnavailable = errors.New("attendance: durable store unavailable")

// RecordStore is the durable record and schedule collaborator.
type RecordStore interface {
	QueryRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error)
	QueryScheduleForWeekday(ctx context.Context, day time.Weekday) ([]model.ScheduleEntry, error)
	AppendRecord(ctx context.Context, userKey string, rec model.AttendanceRecord) error
	DeleteRecord(ctx context.Context, userKey, courseID string, timestamp time.Time) error
}

// Cache is the local offline-fallback collaborator. It only ever holds
// confirmed attendance events; absences are synthesized at merge time.
type Cache interface {
	SaveRecords(ctx context.Context, userKey string, records []model.AttendanceRecord) error
	LoadRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error)
}

// Reconcile merges historical records with the day's expected schedule
// into one ordered view, one record per (course, day):
//
//  1. Every schedule entry meeting on now's weekday synthesizes an
//     absent default stamped with now.
//  2. A historical record with the same (course, date) key replaces
//     its default; attendance always overrides the absent default.
//  3. For colliding keys the later record wins, in insertion order.
//  4. Output is the remaining history followed by today's defaults.
//
// The result is recomputed on demand and never persisted.
func Reconcile(history []model.AttendanceRecord, todaySchedule []model.ScheduleEntry, now time.Time) []model.AttendanceRecord {
	defaults := make([]model.AttendanceRecord, 0, len(todaySchedule))
	todayIdx := make(map[model.RecordKey]int, len(todaySchedule))

	for _, entry := range todaySchedule {
		if !entry.MeetsOn(now.Weekday()) {
			continue
		}
		rec := model.AttendanceRecord{
			CourseID:   entry.CourseID,
			CourseName: entry.CourseName,
			Timestamp:  now,
			Status:     model.StatusAbsent,
		}
		if i, ok := todayIdx[rec.Key()]; ok {
			defaults[i] = rec
			continue
		}
		todayIdx[rec.Key()] = len(defaults)
		defaults = append(defaults, rec)
	}

	past := make([]model.AttendanceRecord, 0, len(history))
	pastIdx := make(map[model.RecordKey]int, len(history))

	for _, rec := range history {
		key := rec.Key()
		if i, ok := todayIdx[key]; ok {
			defaults[i] = rec
			continue
		}
		if i, ok := pastIdx[key]; ok {
			past[i] = rec
			continue
		}
		pastIdx[key] = len(past)
		past = append(past, rec)
	}

	return append(past, defaults...)
}
