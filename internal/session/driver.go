package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/radio"
)

// Driver runs one attendance attempt: it owns the single observation
// subscription, the one-second tick, and the directed connect, and
// feeds all of them as events into the pure reducer. Reads happen
// through Snapshot so no caller ever touches the loop's state directly.
type Driver struct {
	room   string
	radio  radio.Radio
	logger *slog.Logger

	mu     sync.Mutex
	sess   Session
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver prepares a driver for one beacon target in one room. The
// machine stays Idle until Start is called.
func NewDriver(target model.BeaconTarget, room string, r radio.Radio, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		room:   room,
		radio:  r,
		logger: logger,
		sess:   New(target),
	}
}

// Start begins (or cleanly restarts) the attempt. A prior run is fully
// stopped first so exactly one observation stream feeds the reducer.
// Returns radio.ErrPermissionDenied unchanged when discovery cannot
// start; in that case the machine never leaves Idle.
func (d *Driver) Start(ctx context.Context) error {
	d.Stop()

	runCtx, cancel := context.WithCancel(ctx)

	obs, err := d.radio.StartDiscovery(runCtx, d.room)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})

	d.mu.Lock()
	d.sess = Apply(d.sess, Started{At: time.Now()})
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.run(runCtx, obs, done)
	return nil
}

// Stop cancels the running attempt, halts discovery, and waits for the
// event loop to exit. Safe to call at any time, including twice.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Snapshot returns a copy of the current session state.
func (d *Driver) Snapshot() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

func (d *Driver) run(ctx context.Context, obs <-chan model.ScanObservation, done chan struct{}) {
	defer close(done)
	defer d.radio.StopDiscovery()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Results of the in-flight directed connect, delivered back into
	// the single event loop. Buffered so a late result after loop exit
	// cannot block the connect goroutine.
	connectCh := make(chan bool, 1)
	connecting := false

	for {
		select {
		case <-ctx.Done():
			return

		case o, ok := <-obs:
			if !ok {
				// Stream ended while the attempt was live. The reducer
				// must see a terminal event so the attempt never
				// freezes mid-dwell.
				d.apply(StreamClosed{At: time.Now()})
				s := d.Snapshot()
				d.logger.Info("observation stream closed",
					"course", s.Target.CourseID,
					"state", string(s.State),
				)
				return
			}
			before := d.apply(Observed{Obs: o, At: time.Now()})
			after := d.Snapshot()
			if before.State == StateScanning && after.State == StateConnecting && !connecting {
				connecting = true
				go func(addr string) {
					err := d.radio.Connect(ctx, addr)
					if err != nil {
						d.logger.Warn("beacon connect failed", "address", addr, "error", err)
					}
					connectCh <- err == nil
				}(after.Target.Address)
			}

		case ok := <-connectCh:
			connecting = false
			d.apply(ConnectResult{OK: ok, At: time.Now()})

		case now := <-ticker.C:
			d.apply(Tick{At: now})
			s := d.Snapshot()
			if s.State == StateTimedOut || s.State == StateLost {
				// Both end this invocation; retry is a fresh Start.
				d.logger.Info("attempt ended",
					"course", s.Target.CourseID,
					"state", string(s.State),
				)
				return
			}
		}
	}
}

// apply runs one event through the reducer under the lock and returns
// the state the session had before the event.
func (d *Driver) apply(ev Event) Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.sess
	d.sess = Apply(d.sess, ev)
	return before
}
