package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rollcall/attendance-server/internal/model"
)

// Reconciler owns the in-memory attendance view for one user identity
// and coordinates it with the durable store and the local cache. The
// view is rebuilt on each Refresh and after each local mutation;
// durable ownership stays with the remote store.
type Reconciler struct {
	user   string
	remote RecordStore
	cache  Cache
	logger *slog.Logger

	mu      sync.Mutex
	history []model.AttendanceRecord
	view    []model.AttendanceRecord
}

// NewReconciler builds a reconciler bound to one user identity and its
// collaborator interfaces.
func NewReconciler(user string, remote RecordStore, cache Cache, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{user: user, remote: remote, cache: cache, logger: logger}
}

// Refresh reloads history and today's schedule and rebuilds the merged
// view. When the durable store is unreachable the cached records serve
// as history and the returned error wraps ErrStoreUnavailable; the
// view is still valid, just possibly stale.
func (r *Reconciler) Refresh(ctx context.Context, now time.Time) ([]model.AttendanceRecord, error) {
	var stale error

	history, err := r.remote.QueryRecords(ctx, r.user)
	if err != nil {
		r.logger.Warn("record query failed, using cached history", "user", r.user, "error", err)
		stale = fmt.Errorf("query records: %w", err)
		history, err = r.cache.LoadRecords(ctx, r.user)
		if err != nil {
			r.logger.Error("cache load failed", "user", r.user, "error", err)
			history = nil
		}
	} else if err := r.cache.SaveRecords(ctx, r.user, attendedOnly(history)); err != nil {
		r.logger.Warn("cache refresh failed", "user", r.user, "error", err)
	}

	todaySchedule, err := r.remote.QueryScheduleForWeekday(ctx, now.Weekday())
	if err != nil {
		r.logger.Warn("schedule query failed, merging without defaults", "weekday", now.Weekday().String(), "error", err)
		if stale == nil {
			stale = fmt.Errorf("query schedule: %w", err)
		}
		todaySchedule = nil
	}

	r.mu.Lock()
	r.history = history
	r.view = Reconcile(history, todaySchedule, now)
	view := copyRecords(r.view)
	r.mu.Unlock()

	return view, stale
}

// RecordAttendance commits an attendance event. The in-memory view and
// the cache are updated first; a durable write failure is logged and
// reported but never rolls the local update back. The returned error,
// when non-nil, wraps ErrStoreUnavailable.
func (r *Reconciler) RecordAttendance(ctx context.Context, courseID, courseName string, now time.Time) (model.AttendanceRecord, error) {
	rec := model.AttendanceRecord{
		CourseID:   courseID,
		CourseName: courseName,
		Timestamp:  now,
		Status:     model.StatusAttended,
	}

	r.mu.Lock()
	r.history = upsertByKey(r.history, rec)
	r.view = upsertByKey(r.view, rec)
	history := copyRecords(r.history)
	r.mu.Unlock()

	if err := r.cache.SaveRecords(ctx, r.user, attendedOnly(history)); err != nil {
		r.logger.Warn("cache save failed after attendance", "user", r.user, "course", courseID, "error", err)
	}

	if err := r.remote.AppendRecord(ctx, r.user, rec); err != nil {
		r.logger.Error("durable attendance write failed, local view kept",
			"user", r.user,
			"course", courseID,
			"timestamp", rec.Timestamp,
			"error", err,
		)
		return rec, fmt.Errorf("append record: %w", err)
	}

	r.logger.Info("attendance recorded", "user", r.user, "course", courseID, "timestamp", rec.Timestamp)
	return rec, nil
}

// Delete removes a record by exact (course, timestamp) match from the
// in-memory view, the cache, and the durable store. The remote facade
// treats "not found" as success, which keeps retried deletes safe.
func (r *Reconciler) Delete(ctx context.Context, courseID string, timestamp time.Time) error {
	r.mu.Lock()
	r.history = removeExact(r.history, courseID, timestamp)
	r.view = removeExact(r.view, courseID, timestamp)
	history := copyRecords(r.history)
	r.mu.Unlock()

	if err := r.cache.SaveRecords(ctx, r.user, attendedOnly(history)); err != nil {
		r.logger.Warn("cache save failed after delete", "user", r.user, "course", courseID, "error", err)
	}

	if err := r.remote.DeleteRecord(ctx, r.user, courseID, timestamp); err != nil {
		r.logger.Error("durable delete failed, local view kept", "user", r.user, "course", courseID, "error", err)
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// View returns a copy of the current merged view.
func (r *Reconciler) View() []model.AttendanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyRecords(r.view)
}

// upsertByKey replaces the record sharing rec's (course, date) key or
// appends when no record holds that slot yet.
func upsertByKey(records []model.AttendanceRecord, rec model.AttendanceRecord) []model.AttendanceRecord {
	for i, existing := range records {
		if existing.Key() == rec.Key() {
			records[i] = rec
			return records
		}
	}
	return append(records, rec)
}

func removeExact(records []model.AttendanceRecord, courseID string, timestamp time.Time) []model.AttendanceRecord {
	out := records[:0]
	for _, rec := range records {
		if rec.CourseID == courseID && rec.Timestamp.Equal(timestamp) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func attendedOnly(records []model.AttendanceRecord) []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, 0, len(records))
	for _, rec := range records {
		if rec.Status == model.StatusAttended {
			out = append(out, rec)
		}
	}
	return out
}

func copyRecords(records []model.AttendanceRecord) []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, len(records))
	copy(out, records)
	return out
}
