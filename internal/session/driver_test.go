package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/radio"
)

// fakeRadio is a scripted radio collaborator. Observations are pushed
// through the channel handed out by StartDiscovery.
type fakeRadio struct {
	mu          sync.Mutex
	stream      chan model.ScanObservation
	starts      int
	stops       int
	connectErr  error
	connectAddr string
}

func (f *fakeRadio) StartDiscovery(ctx context.Context, room string) (<-chan model.ScanObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.stream = make(chan model.ScanObservation, 16)
	return f.stream, nil
}

func (f *fakeRadio) StopDiscovery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stream != nil {
		close(f.stream)
		f.stream = nil
	}
	f.stops++
}

func (f *fakeRadio) Connect(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectAddr = address
	return f.connectErr
}

func (f *fakeRadio) push(obs model.ScanObservation) {
	f.mu.Lock()
	stream := f.stream
	f.mu.Unlock()
	if stream != nil {
		stream <- obs
	}
}

var _ radio.Radio = (*fakeRadio)(nil)

func waitForState(t *testing.T, d *Driver, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", d.Snapshot().State, want)
}

func TestDriver_ConnectsOnTargetObservation(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if got := d.Snapshot().State; got != StateScanning {
		t.Fatalf("after Start state = %s, want %s", got, StateScanning)
	}

	fake.push(model.ScanObservation{ScannerID: "scanner-1", Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateConnected)

	fake.mu.Lock()
	addr := fake.connectAddr
	fake.mu.Unlock()
	if addr != testTarget.Address {
		t.Errorf("connect issued for %q, want %q", addr, testTarget.Address)
	}
}

func TestDriver_ConnectFailureReturnsToScanning(t *testing.T) {
	fake := &fakeRadio{connectErr: radio.ErrConnectFailed}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateScanning)
}

func TestDriver_StopReleasesDiscovery(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()

	fake.mu.Lock()
	stops := fake.stops
	fake.mu.Unlock()
	if stops == 0 {
		t.Error("Stop must halt discovery")
	}

	// Stop is idempotent.
	d.Stop()
}

func TestDriver_OverallTimeoutReportsTimedOut(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// Backdate the attempt start so the next tick crosses the budget.
	d.mu.Lock()
	d.sess.StartedAt = time.Now().Add(-OverallTimeout)
	d.mu.Unlock()

	waitForState(t, d, StateTimedOut)

	fake.mu.Lock()
	stops := fake.stops
	fake.mu.Unlock()
	if stops == 0 {
		t.Error("timeout must release discovery")
	}
}

func TestDriver_StreamCloseMidDwellReportsLost(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateConnected)
	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateVerifying)

	// The stream dying mid-dwell must not strand the session; the
	// accumulated dwell is forfeited.
	fake.StopDiscovery()
	waitForState(t, d, StateLost)

	if d.Snapshot().Eligible() {
		t.Error("a session losing its stream mid-dwell must never be eligible")
	}
}

func TestDriver_EligibleKeepsRangeChecks(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateConnected)
	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateVerifying)

	// Backdate the connection anchor so the dwell has already elapsed.
	d.mu.Lock()
	d.sess.ConnectedSince = time.Now().Add(-DwellThreshold)
	d.mu.Unlock()

	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -59})
	waitForState(t, d, StateEligible)

	// Eligibility does not end range checking; walking away demotes
	// the session to Lost.
	fake.push(model.ScanObservation{Address: testTarget.Address, RSSI: -90})
	waitForState(t, d, StateLost)
}

func TestDriver_RestartReplacesPriorStream(t *testing.T) {
	fake := &fakeRadio{}
	d := NewDriver(testTarget, "room-204", fake, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer d.Stop()

	fake.mu.Lock()
	starts, stops := fake.starts, fake.stops
	fake.mu.Unlock()

	if starts != 2 {
		t.Errorf("StartDiscovery calls = %d, want 2", starts)
	}
	if stops < 1 {
		t.Error("restart must stop the prior discovery before starting a new one")
	}
	if got := d.Snapshot().State; got != StateScanning {
		t.Errorf("after restart state = %s, want %s", got, StateScanning)
	}
}
