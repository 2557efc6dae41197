package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rollcall/attendance-server/internal/config"
	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/session"
)

type stubRadio struct {
	mu     sync.Mutex
	stream chan model.ScanObservation
}

func (r *stubRadio) StartDiscovery(ctx context.Context, room string) (<-chan model.ScanObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = make(chan model.ScanObservation)
	return r.stream, nil
}

func (r *stubRadio) StopDiscovery() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		close(r.stream)
		r.stream = nil
	}
}

func (r *stubRadio) Connect(ctx context.Context, address string) error { return nil }

var stubTarget = model.BeaconTarget{Address: "AA:BB:CC:DD:EE:FF", CourseID: "101"}

// lostDriver starts an attempt and kills its stream so the driver loop
// ends in Lost.
func lostDriver(t *testing.T) *session.Driver {
	t.Helper()

	stub := &stubRadio{}
	d := session.NewDriver(stubTarget, "room-204", stub, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stub.StopDiscovery()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.Snapshot().State == session.StateLost {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("driver never reached %s, state = %s", session.StateLost, d.Snapshot().State)
	return nil
}

func TestPruneAttemptsForgetsStaleTerminalAttempts(t *testing.T) {
	a := New(config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()

	stale := &attempt{ID: "stale", UserKey: "student-7", Target: stubTarget, Driver: lostDriver(t), CreatedAt: now.Add(-time.Hour)}
	fresh := &attempt{ID: "fresh", UserKey: "student-7", Target: stubTarget, Driver: lostDriver(t), CreatedAt: now}
	live := &attempt{ID: "live", UserKey: "student-7", Target: stubTarget, Driver: session.NewDriver(stubTarget, "room-204", &stubRadio{}, nil), CreatedAt: now.Add(-time.Hour)}

	a.attempts[stale.ID] = stale
	a.attempts[fresh.ID] = fresh
	a.attempts[live.ID] = live

	a.pruneAttempts(now)

	if _, ok := a.attempts[stale.ID]; ok {
		t.Error("stale terminal attempt must be pruned")
	}
	if _, ok := a.attempts[fresh.ID]; !ok {
		t.Error("terminal attempt inside the retention window must stay restartable")
	}
	if _, ok := a.attempts[live.ID]; !ok {
		t.Error("non-terminal attempt must never be pruned")
	}
}
