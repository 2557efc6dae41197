// Package radio abstracts the scanner hardware feeding an attendance
// attempt: a continuous discovery stream of BLE observations plus a
// directed connect to one beacon address.
package radio

import (
	"context"
	"errors"

	"rollcall/attendance-server/internal/model"
)

// ErrPermissionDenied means discovery cannot start because no scanner
// is registered and authorized for the requested room. The attempt
// never starts; callers surface this and do not retry automatically.
var ErrPermissionDenied = errors.New("radio: no authorized scanner for room")

// ErrConnectFailed means a directed connect attempt to the beacon did
// not complete. Connect failures are retried by returning the session
// to discovery until its overall timeout.
var ErrConnectFailed = errors.New("radio: beacon connect failed")

// Radio is the collaborator interface an attendance attempt drives.
// Implementations must tolerate StopDiscovery followed by a fresh
// StartDiscovery without leaking the prior observation stream.
type Radio interface {
	// StartDiscovery begins continuous scanning and returns the
	// observation stream for this attempt. The stream stays open for
	// the life of the attempt and closes only when discovery stops or
	// ctx is cancelled; attempt deadlines belong to the session, not
	// the stream.
	StartDiscovery(ctx context.Context, room string) (<-chan model.ScanObservation, error)

	// StopDiscovery halts scanning and closes the current stream.
	// Safe to call when no discovery is active.
	StopDiscovery()

	// Connect asks the scanner to establish a connection to the beacon
	// at address. Returns nil on success, ErrConnectFailed (possibly
	// wrapped) otherwise.
	Connect(ctx context.Context, address string) error
}
