package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance-server/internal/attendance"
	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/radio"
	"rollcall/attendance-server/internal/schedule"
	"rollcall/attendance-server/internal/session"
)

// attempt is one running proximity verification: a student, a room,
// and the driver owning that attempt's state machine. The driver is
// stopped when the attempt is confirmed, cancelled, or the server
// shuts down, so no timer or subscription outlives it.
type attempt struct {
	ID        string
	UserKey   string
	Room      string
	Target    model.BeaconTarget
	Driver    *session.Driver
	CreatedAt time.Time
}

type attemptResponse struct {
	ID               string  `json:"id"`
	UserKey          string  `json:"user_key"`
	Room             string  `json:"room"`
	CourseID         string  `json:"course_id"`
	State            string  `json:"state"`
	DistanceMeters   float64 `json:"distance_m"`
	DwellSecondsLeft int     `json:"dwell_seconds_left"`
	Eligible         bool    `json:"eligible"`
}

func (a *App) attemptToResponse(at *attempt) attemptResponse {
	snap := at.Driver.Snapshot()
	now := time.Now()
	return attemptResponse{
		ID:               at.ID,
		UserKey:          at.UserKey,
		Room:             at.Room,
		CourseID:         at.Target.CourseID,
		State:            string(snap.State),
		DistanceMeters:   snap.LastDistance,
		DwellSecondsLeft: int(snap.RemainingDwell(now).Seconds()),
		Eligible:         snap.Eligible(),
	}
}

func (a *App) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserKey       string `json:"user_key"`
		Room          string `json:"room"`
		BeaconAddress string `json:"beacon_address"`
		CourseID      string `json:"course_id"`
		CourseName    string `json:"course_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.UserKey == "" || req.Room == "" || req.BeaconAddress == "" || req.CourseID == "" {
		http.Error(w, "user_key, room, beacon_address and course_id required", http.StatusBadRequest)
		return
	}

	target := model.BeaconTarget{
		Address:    req.BeaconAddress,
		CourseID:   req.CourseID,
		CourseName: req.CourseName,
	}

	at := &attempt{
		ID:        uuid.NewString(),
		UserKey:   req.UserKey,
		Room:      req.Room,
		Target:    target,
		Driver:    session.NewDriver(target, req.Room, a.hub.ForRoom(req.Room), a.logger),
		CreatedAt: time.Now(),
	}

	// The attempt outlives this request; its lifetime is bounded by
	// confirm/cancel and by server shutdown, not by the HTTP context.
	if err := at.Driver.Start(context.Background()); err != nil {
		if errors.Is(err, radio.ErrPermissionDenied) {
			a.logger.Warn("attempt rejected, no scanner for room", "room", req.Room, "user", req.UserKey)
			http.Error(w, "no scanner available for room", http.StatusForbidden)
			return
		}
		a.logger.Error("failed to start attempt", "room", req.Room, "error", err)
		http.Error(w, "failed to start attempt", http.StatusInternalServerError)
		return
	}

	a.attemptsMu.Lock()
	a.attempts[at.ID] = at
	a.attemptsMu.Unlock()

	a.logger.Info("attempt started", "attempt", at.ID, "user", at.UserKey, "course", target.CourseID, "room", at.Room)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(a.attemptToResponse(at)); err != nil {
		a.logger.Error("failed to encode attempt response", "error", err)
	}
}

func (a *App) handleAttemptByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/attempts/")
	id, action, _ := strings.Cut(rest, "/")

	a.attemptsMu.Lock()
	at, ok := a.attempts[id]
	a.attemptsMu.Unlock()
	if !ok {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		a.serveAttempt(w, at)
	case action == "" && r.Method == http.MethodDelete:
		a.cancelAttempt(w, at)
	case action == "restart" && r.Method == http.MethodPost:
		a.restartAttempt(w, at)
	case action == "confirm" && r.Method == http.MethodPost:
		a.confirmAttempt(w, r, at)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) serveAttempt(w http.ResponseWriter, at *attempt) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.attemptToResponse(at)); err != nil {
		a.logger.Error("failed to encode attempt response", "error", err)
	}
}

func (a *App) cancelAttempt(w http.ResponseWriter, at *attempt) {
	a.removeAttempt(at)
	a.logger.Info("attempt cancelled", "attempt", at.ID, "user", at.UserKey)
	w.WriteHeader(http.StatusNoContent)
}

// restartAttempt re-issues the scan after a Lost or TimedOut outcome.
// Start restarts cleanly from any state, replacing the prior stream.
func (a *App) restartAttempt(w http.ResponseWriter, at *attempt) {
	if err := at.Driver.Start(context.Background()); err != nil {
		if errors.Is(err, radio.ErrPermissionDenied) {
			http.Error(w, "no scanner available for room", http.StatusForbidden)
			return
		}
		a.logger.Error("failed to restart attempt", "attempt", at.ID, "error", err)
		http.Error(w, "failed to restart attempt", http.StatusInternalServerError)
		return
	}
	a.serveAttempt(w, at)
}

// confirmAttempt authorizes the attendance record. Proximity
// eligibility and the class-session window are independent checks;
// both must hold before the record is committed.
func (a *App) confirmAttempt(w http.ResponseWriter, r *http.Request, at *attempt) {
	snap := at.Driver.Snapshot()
	if !snap.Eligible() {
		http.Error(w, "attempt is not eligible", http.StatusConflict)
		return
	}

	now := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	entries, err := a.remote.QueryScheduleForWeekday(ctx, now.Weekday())
	if err != nil {
		a.logger.Error("schedule query failed during confirm", "attempt", at.ID, "error", err)
		http.Error(w, "schedule unavailable", http.StatusServiceUnavailable)
		return
	}

	var entry *model.ScheduleEntry
	for i := range entries {
		if entries[i].CourseID == at.Target.CourseID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		http.Error(w, "course is not scheduled today", http.StatusConflict)
		return
	}

	inSession, err := schedule.InSession(*entry, now)
	if err != nil {
		var schedErr *schedule.InvalidScheduleError
		if errors.As(err, &schedErr) {
			a.logger.Error("malformed schedule entry", "course", entry.CourseID, "error", err)
			http.Error(w, schedErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "schedule validation failed", http.StatusInternalServerError)
		return
	}
	if !inSession {
		http.Error(w, "class is not in session", http.StatusConflict)
		return
	}

	rec := a.reconcilerFor(at.UserKey)
	record, err := rec.RecordAttendance(ctx, at.Target.CourseID, at.Target.CourseName, now)

	a.removeAttempt(at)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, attendance.ErrStoreUnavailable):
		// Locally recorded; the durable write failed and was logged.
		w.WriteHeader(http.StatusAccepted)
	case err != nil:
		http.Error(w, "failed to record attendance", http.StatusInternalServerError)
		return
	default:
		w.WriteHeader(http.StatusCreated)
	}
	if err := json.NewEncoder(w).Encode(record); err != nil {
		a.logger.Error("failed to encode record response", "error", err)
	}
}

// removeAttempt stops the driver and forgets the attempt.
func (a *App) removeAttempt(at *attempt) {
	a.attemptsMu.Lock()
	delete(a.attempts, at.ID)
	a.attemptsMu.Unlock()
	at.Driver.Stop()
}

// attemptRetention is how long a terminally failed attempt stays
// addressable for restart before the sweep forgets it.
const attemptRetention = 10 * time.Minute

// pruneAttempts forgets attempts whose driver loop has already ended
// in Lost or TimedOut and that were not restarted within the retention
// window. Active and eligible attempts are never touched.
func (a *App) pruneAttempts(now time.Time) {
	var stale []*attempt

	a.attemptsMu.Lock()
	for id, at := range a.attempts {
		snap := at.Driver.Snapshot()
		if snap.State != session.StateLost && snap.State != session.StateTimedOut {
			continue
		}
		if now.Sub(at.CreatedAt) < attemptRetention {
			continue
		}
		delete(a.attempts, id)
		stale = append(stale, at)
	}
	a.attemptsMu.Unlock()

	for _, at := range stale {
		at.Driver.Stop()
		a.logger.Info("stale attempt pruned",
			"attempt", at.ID,
			"user", at.UserKey,
			"state", string(at.Driver.Snapshot().State),
		)
	}
}

// stopAllAttempts tears down every live attempt during shutdown.
func (a *App) stopAllAttempts() {
	a.attemptsMu.Lock()
	attempts := make([]*attempt, 0, len(a.attempts))
	for _, at := range a.attempts {
		attempts = append(attempts, at)
	}
	a.attempts = make(map[string]*attempt)
	a.attemptsMu.Unlock()

	for _, at := range attempts {
		at.Driver.Stop()
	}
}
