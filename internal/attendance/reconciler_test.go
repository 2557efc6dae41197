package attendance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rollcall/attendance-server/internal/model"
)

type fakeRemote struct {
	records  []model.AttendanceRecord
	schedule []model.ScheduleEntry
	queryErr error
	writeErr error
	appended []model.AttendanceRecord
	deleted  []string
}

func (f *fakeRemote) QueryRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.records, nil
}

func (f *fakeRemote) QueryScheduleForWeekday(ctx context.Context, day time.Weekday) ([]model.ScheduleEntry, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []model.ScheduleEntry
	for _, e := range f.schedule {
		if e.MeetsOn(day) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRemote) AppendRecord(ctx context.Context, userKey string, rec model.AttendanceRecord) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.appended = append(f.appended, rec)
	return nil
}

func (f *fakeRemote) DeleteRecord(ctx context.Context, userKey, courseID string, timestamp time.Time) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.deleted = append(f.deleted, courseID)
	return nil
}

type fakeCache struct {
	saved map[string][]model.AttendanceRecord
}

func (f *fakeCache) SaveRecords(ctx context.Context, userKey string, records []model.AttendanceRecord) error {
	if f.saved == nil {
		f.saved = make(map[string][]model.AttendanceRecord)
	}
	f.saved[userKey] = append([]model.AttendanceRecord(nil), records...)
	return nil
}

func (f *fakeCache) LoadRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error) {
	return f.saved[userKey], nil
}

func TestRefresh_MergesHistoryAndSchedule(t *testing.T) {
	remote := &fakeRemote{
		records:  []model.AttendanceRecord{attended("101", monday.Add(-time.Hour))},
		schedule: []model.ScheduleEntry{scheduled("101", "Monday"), scheduled("202", "Monday")},
	}
	r := NewReconciler("student-7", remote, &fakeCache{}, nil)

	view, err := r.Refresh(context.Background(), monday)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(view) != 2 {
		t.Fatalf("view has %d records, want 2: %+v", len(view), view)
	}

	byCourse := make(map[string]model.Status)
	for _, rec := range view {
		byCourse[rec.CourseID] = rec.Status
	}
	if byCourse["101"] != model.StatusAttended {
		t.Errorf("course 101 = %s, want attended", byCourse["101"])
	}
	if byCourse["202"] != model.StatusAbsent {
		t.Errorf("course 202 = %s, want absent default", byCourse["202"])
	}
}

func TestRefresh_FallsBackToCacheWhenStoreUnavailable(t *testing.T) {
	cache := &fakeCache{}
	_ = cache.SaveRecords(context.Background(), "student-7",
		[]model.AttendanceRecord{attended("101", monday.Add(-time.Hour))})

	remote := &fakeRemote{queryErr: fmt.Errorf("dial: %w", ErrStoreUnavailable)}
	r := NewReconciler("student-7", remote, cache, nil)

	view, err := r.Refresh(context.Background(), monday)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable to surface", err)
	}
	if len(view) != 1 || view[0].CourseID != "101" {
		t.Errorf("cached history not used: %+v", view)
	}
	if view[0].Status != model.StatusAttended {
		t.Errorf("cache-loaded record status = %s, want attended", view[0].Status)
	}
}

func TestRecordAttendance_LocalFirstThenDurable(t *testing.T) {
	remote := &fakeRemote{schedule: []model.ScheduleEntry{scheduled("101", "Monday")}}
	cache := &fakeCache{}
	r := NewReconciler("student-7", remote, cache, nil)

	if _, err := r.Refresh(context.Background(), monday); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec, err := r.RecordAttendance(context.Background(), "101", "Course 101", monday)
	if err != nil {
		t.Fatalf("RecordAttendance: %v", err)
	}
	if rec.Status != model.StatusAttended {
		t.Errorf("status = %s, want attended", rec.Status)
	}
	if len(remote.appended) != 1 {
		t.Errorf("durable store received %d writes, want 1", len(remote.appended))
	}

	view := r.View()
	if len(view) != 1 || view[0].Status != model.StatusAttended {
		t.Errorf("view after commit: %+v, want one attended record", view)
	}
	if got := cache.saved["student-7"]; len(got) != 1 {
		t.Errorf("cache holds %d records after commit, want 1", len(got))
	}
}

func TestRecordAttendance_DurableFailureKeepsLocalView(t *testing.T) {
	remote := &fakeRemote{writeErr: fmt.Errorf("post: %w", ErrStoreUnavailable)}
	r := NewReconciler("student-7", remote, &fakeCache{}, nil)

	_, err := r.RecordAttendance(context.Background(), "101", "Course 101", monday)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}

	view := r.View()
	if len(view) != 1 || view[0].Status != model.StatusAttended {
		t.Errorf("local view must keep the record after durable failure: %+v", view)
	}
}

func TestRecordAttendance_RetryDoesNotDuplicateKey(t *testing.T) {
	remote := &fakeRemote{}
	r := NewReconciler("student-7", remote, &fakeCache{}, nil)

	if _, err := r.RecordAttendance(context.Background(), "101", "Course 101", monday); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if _, err := r.RecordAttendance(context.Background(), "101", "Course 101", monday.Add(time.Minute)); err != nil {
		t.Fatalf("retry commit: %v", err)
	}

	view := r.View()
	if len(view) != 1 {
		t.Fatalf("view has %d records after retry, want 1 (same course/day key): %+v", len(view), view)
	}
	if !view[0].Timestamp.Equal(monday.Add(time.Minute)) {
		t.Errorf("retry should win by key: %+v", view[0])
	}
}

func TestDelete_RemovesByExactTimestamp(t *testing.T) {
	ts := monday.Add(-time.Hour)
	remote := &fakeRemote{records: []model.AttendanceRecord{attended("101", ts)}}
	r := NewReconciler("student-7", remote, &fakeCache{}, nil)

	if _, err := r.Refresh(context.Background(), monday); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := r.Delete(context.Background(), "101", ts); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, rec := range r.View() {
		if rec.CourseID == "101" && rec.Timestamp.Equal(ts) {
			t.Errorf("deleted record still present: %+v", rec)
		}
	}
	if len(remote.deleted) != 1 {
		t.Errorf("durable delete not issued, got %v", remote.deleted)
	}
}
