package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"rollcall/attendance-server/internal/attendance"
	"rollcall/attendance-server/internal/model"
)

func (a *App) handleAttendance(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.serveAttendance(w, r)
	case http.MethodDelete:
		a.deleteAttendance(w, r)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// serveAttendance rebuilds and returns the merged view: history plus
// today's expected schedule. A stale view (store unreachable, cache
// used) is still served, flagged so the client can message it.
func (a *App) serveAttendance(w http.ResponseWriter, r *http.Request) {
	userKey := r.URL.Query().Get("user_key")
	if userKey == "" {
		http.Error(w, "user_key required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec := a.reconcilerFor(userKey)
	view, err := rec.Refresh(ctx, time.Now())
	stale := err != nil
	if stale && !errors.Is(err, attendance.ErrStoreUnavailable) {
		a.logger.Error("reconciliation failed", "user", userKey, "error", err)
		http.Error(w, "failed to build attendance view", http.StatusInternalServerError)
		return
	}

	response := struct {
		Records []model.AttendanceRecord `json:"records"`
		Stale   bool                     `json:"stale"`
	}{Records: view, Stale: stale}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode attendance response", "error", err)
	}
}

func (a *App) deleteAttendance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserKey   string `json:"user_key"`
		CourseID  string `json:"course_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.UserKey == "" || req.CourseID == "" || req.Timestamp == "" {
		http.Error(w, "user_key, course_id and timestamp required", http.StatusBadRequest)
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, req.Timestamp)
	}
	if err != nil {
		http.Error(w, "timestamp must be RFC 3339", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec := a.reconcilerFor(req.UserKey)
	if err := rec.Delete(ctx, req.CourseID, ts); err != nil {
		if errors.Is(err, attendance.ErrStoreUnavailable) {
			// Removed locally; the durable delete failed and was logged.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		a.logger.Error("delete failed", "user", req.UserKey, "course", req.CourseID, "error", err)
		http.Error(w, "failed to delete record", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.serveConfig(w, r)
	case http.MethodPost:
		a.updateConfig(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) serveConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	persisted, err := a.store.AppConfig(ctx)
	if err != nil {
		a.logger.Error("failed to load app config", "error", err)
		http.Error(w, "failed to load config", http.StatusInternalServerError)
		return
	}

	active := map[string]any{
		"http_port":     a.cfg.HTTPPort,
		"mqtt_bind":     a.cfg.MQTTBindAddress,
		"database_path": a.cfg.DatabasePath,
		"records_url":   a.cfg.RecordsURL,
		"log_level":     a.cfg.LogLevel,
	}

	response := struct {
		Active    map[string]any    `json:"active"`
		Persisted map[string]string `json:"persisted"`
	}{
		Active:    active,
		Persisted: persisted,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode config response", "error", err)
	}
}

func (a *App) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HTTPPort *int `json:"http_port"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	type updateResult struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	updates := []updateResult{}

	if req.HTTPPort != nil {
		port := *req.HTTPPort
		if port < 1 || port > 65535 {
			http.Error(w, "http_port must be between 1 and 65535", http.StatusBadRequest)
			return
		}
		if err := a.store.UpsertAppConfig(ctx, "http_port", strconv.Itoa(port)); err != nil {
			a.logger.Error("failed to update http_port", "error", err)
			http.Error(w, "failed to persist config", http.StatusInternalServerError)
			return
		}
		updates = append(updates, updateResult{Key: "http_port", Value: strconv.Itoa(port)})
	}

	if len(updates) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"no supported fields provided"}`))
		return
	}

	resp := struct {
		Updates         []updateResult `json:"updates"`
		RequiresRestart bool           `json:"requires_restart"`
	}{
		Updates:         updates,
		RequiresRestart: true,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("failed to encode update response", "error", err)
	}
}
