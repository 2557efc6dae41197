// Package session implements the beacon attendance state machine. The
// machine itself is a pure reducer over an event stream (observations,
// connect results, timer ticks); the Driver in this package owns the
// I/O that produces those events.
package session

import (
	"time"

	"rollcall/attendance-server/internal/estimator"
	"rollcall/attendance-server/internal/model"
)

// State names one phase of an attendance attempt.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateVerifying  State = "verifying"
	StateEligible   State = "eligible"
	StateLost       State = "lost"
	StateTimedOut   State = "timed_out"
)

const (
	// DwellThreshold is the continuous in-range time required before
	// attendance becomes authorizable. Disconnection or a single
	// out-of-range sample resets it; there is no partial credit.
	DwellThreshold = 20 * time.Second

	// RangeThreshold is the maximum estimated distance in meters that
	// still counts as "in the room".
	RangeThreshold = 5.0

	// OverallTimeout bounds the discovery/connect phase of an attempt.
	OverallTimeout = 40 * time.Second
)

// Session is the full state of one attendance attempt. It is a value:
// the reducer returns an updated copy and never mutates in place.
//
// ConnectedSince is non-zero exactly while the state is Connected,
// Verifying, or Eligible. LastDistance is estimator.Unknown until the
// first usable reading.
type Session struct {
	Target         model.BeaconTarget `json:"target"`
	State          State              `json:"state"`
	StartedAt      time.Time          `json:"started_at"`
	ConnectedSince time.Time          `json:"connected_since,omitempty"`
	LastDistance   float64            `json:"last_distance_m"`
	LastRSSI       int                `json:"last_rssi"`
}

// New returns an idle session for the given beacon target.
func New(target model.BeaconTarget) Session {
	return Session{Target: target, State: StateIdle, LastDistance: estimator.Unknown}
}

// Event is one input to the reducer.
type Event interface{ at() time.Time }

// Started begins (or cleanly restarts) the attempt.
type Started struct{ At time.Time }

// Observed delivers one scan observation.
type Observed struct {
	Obs model.ScanObservation
	At  time.Time
}

// ConnectResult reports the outcome of a directed connect.
type ConnectResult struct {
	OK bool
	At time.Time
}

// Tick is the periodic one-second timer driving dwell completion, the
// range re-check, and the overall timeout.
type Tick struct{ At time.Time }

// StreamClosed reports that the observation stream ended while the
// attempt was still live. Without observations neither dwell nor range
// can be verified, so the attempt is forfeited.
type StreamClosed struct{ At time.Time }

func (e Started) at() time.Time       { return e.At }
func (e Observed) at() time.Time      { return e.At }
func (e ConnectResult) at() time.Time { return e.At }
func (e Tick) at() time.Time          { return e.At }
func (e StreamClosed) at() time.Time  { return e.At }

// Apply advances the session by one event. It is pure: radio and timer
// I/O live in the Driver, which makes every transition independently
// testable with synthetic clocks.
func Apply(s Session, ev Event) Session {
	switch ev := ev.(type) {
	case Started:
		return Session{
			Target:       s.Target,
			State:        StateScanning,
			StartedAt:    ev.At,
			LastDistance: estimator.Unknown,
		}

	case Observed:
		return applyObservation(s, ev)

	case ConnectResult:
		if s.State != StateConnecting {
			return s
		}
		if !ev.OK {
			// Retry discovery; the attempt clock keeps running so the
			// overall timeout still applies.
			s.State = StateScanning
			return s
		}
		s.State = StateConnected
		s.ConnectedSince = ev.At
		return s

	case Tick:
		return applyTick(s, ev)

	case StreamClosed:
		switch s.State {
		case StateIdle, StateLost, StateTimedOut:
			return s
		}
		return toLost(s)
	}
	return s
}

func applyObservation(s Session, ev Observed) Session {
	if !s.Target.Matches(ev.Obs.Address) {
		return s
	}

	switch s.State {
	case StateScanning:
		s.State = StateConnecting
		s.LastRSSI = ev.Obs.RSSI
		s.LastDistance = estimator.Distance(ev.Obs.RSSI)
		return s

	case StateConnecting:
		s.LastRSSI = ev.Obs.RSSI
		s.LastDistance = estimator.Distance(ev.Obs.RSSI)
		return s

	case StateConnected, StateVerifying, StateEligible:
		s.LastRSSI = ev.Obs.RSSI
		s.LastDistance = estimator.Distance(ev.Obs.RSSI)

		if s.LastDistance == estimator.Unknown || s.LastDistance > RangeThreshold {
			return toLost(s)
		}
		if s.State == StateConnected {
			s.State = StateVerifying
		}
		if s.State == StateVerifying && ev.At.Sub(s.ConnectedSince) >= DwellThreshold {
			s.State = StateEligible
		}
		return s
	}

	// Idle, Lost and TimedOut ignore observations; a new attempt
	// requires an explicit Started.
	return s
}

func applyTick(s Session, ev Tick) Session {
	switch s.State {
	case StateScanning, StateConnecting:
		if ev.At.Sub(s.StartedAt) >= OverallTimeout {
			s = toLost(s)
			s.State = StateTimedOut
		}
		return s

	case StateVerifying, StateEligible:
		// The tick re-checks range so a stale in-range reading cannot
		// keep the dwell alive after the beacon goes silent or drifts.
		if s.LastDistance == estimator.Unknown || s.LastDistance > RangeThreshold {
			return toLost(s)
		}
		if s.State == StateVerifying && ev.At.Sub(s.ConnectedSince) >= DwellThreshold {
			s.State = StateEligible
		}
		return s
	}
	return s
}

// toLost clears the connection anchor so accumulated dwell is
// forfeited. Lost is recoverable by restarting the attempt.
func toLost(s Session) Session {
	s.State = StateLost
	s.ConnectedSince = time.Time{}
	return s
}

// ElapsedDwell is the continuous connected time so far, clamped to
// [0, DwellThreshold]. Zero whenever the session is not connected.
func (s Session) ElapsedDwell(now time.Time) time.Duration {
	if s.ConnectedSince.IsZero() {
		return 0
	}
	d := now.Sub(s.ConnectedSince)
	if d < 0 {
		d = 0
	}
	if d > DwellThreshold {
		d = DwellThreshold
	}
	return d
}

// RemainingDwell counts down to zero for display as "seconds left".
func (s Session) RemainingDwell(now time.Time) time.Duration {
	return DwellThreshold - s.ElapsedDwell(now)
}

// InRange reports whether the last distance estimate is a usable
// reading within the proximity threshold.
func (s Session) InRange() bool {
	return s.LastDistance > 0 && s.LastDistance <= RangeThreshold
}

// Eligible reports whether attendance may be authorized: the dwell
// completed and the most recent reading is still in range.
func (s Session) Eligible() bool {
	return s.State == StateEligible && s.InRange()
}

// Terminal reports whether the attempt has ended for this invocation.
// TimedOut is terminal-failure; Eligible is terminal-success but the
// machine keeps range-checking until the caller confirms or cancels.
func (s Session) Terminal() bool {
	return s.State == StateTimedOut
}
