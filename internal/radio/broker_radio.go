package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance-server/internal/model"
)

// Publisher is the slice of the embedded MQTT broker the radio needs:
// the ability to push a command down to a scanner.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// connectTimeout bounds a single directed connect round-trip.
const connectTimeout = 10 * time.Second

// ScannerStatus is the presence announcement a scanner publishes on
// scanners/<id>/status when it comes online or changes rooms.
type ScannerStatus struct {
	ScannerID string `json:"scanner_id"`
	Room      string `json:"room"`
	Online    bool   `json:"online"`
}

// ScannerCommand is a directive published to scanners/<id>/commands.
type ScannerCommand struct {
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Address   string `json:"address,omitempty"`
}

// ScannerEvent is a command outcome published by a scanner on
// scanners/<id>/events.
type ScannerEvent struct {
	RequestID string `json:"request_id"`
	Event     string `json:"event"`
	OK        bool   `json:"ok"`
}

// tap is one attempt's live observation stream, fed from a single
// scanner.
type tap struct {
	scannerID string
	stream    chan model.ScanObservation
	dropped   int
}

// Hub bridges the MQTT scanner fleet to attendance attempts. It tracks
// which scanner covers which room, fans observations out to per-attempt
// streams, and correlates connect commands with their result events.
// Attempts obtain their own Radio via ForRoom, so concurrent attempts
// in different rooms never share session state.
type Hub struct {
	pub    Publisher
	logger *slog.Logger

	mu      sync.Mutex
	rooms   map[string]string // room -> scanner id
	taps    map[*tap]struct{}
	pending map[string]chan bool // connect request id -> result
}

// NewHub builds a hub publishing through the given broker.
func NewHub(pub Publisher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		pub:     pub,
		logger:  logger,
		rooms:   make(map[string]string),
		taps:    make(map[*tap]struct{}),
		pending: make(map[string]chan bool),
	}
}

// ForRoom returns the Radio an attempt in the given room should drive.
func (h *Hub) ForRoom(room string) Radio {
	return &SessionRadio{hub: h, room: room}
}

// HandleMessage dispatches one broker publish to the hub. Wire it as
// (part of) the broker's publish handler; topics outside scanners/ are
// ignored.
func (h *Hub) HandleMessage(ctx context.Context, topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "scanners" {
		return
	}
	scannerID := parts[1]

	switch parts[2] {
	case "status":
		h.handleStatus(scannerID, payload)
	case "observations":
		h.handleObservation(scannerID, payload)
	case "events":
		h.handleEvent(scannerID, payload)
	}
}

func (h *Hub) handleStatus(scannerID string, payload []byte) {
	var status ScannerStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		h.logger.Warn("scanner status decode failed", "scanner", scannerID, "error", err)
		return
	}
	if status.ScannerID == "" {
		status.ScannerID = scannerID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !status.Online {
		if h.rooms[status.Room] == status.ScannerID {
			delete(h.rooms, status.Room)
		}
		h.logger.Info("scanner offline", "scanner", status.ScannerID, "room", status.Room)
		return
	}

	h.rooms[status.Room] = status.ScannerID
	h.logger.Info("scanner registered", "scanner", status.ScannerID, "room", status.Room)
}

func (h *Hub) handleObservation(scannerID string, payload []byte) {
	var obs model.ScanObservation
	if err := json.Unmarshal(payload, &obs); err != nil {
		h.logger.Warn("observation decode failed", "scanner", scannerID, "error", err)
		return
	}
	if obs.ScannerID == "" {
		obs.ScannerID = scannerID
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for t := range h.taps {
		if t.scannerID != obs.ScannerID {
			continue
		}
		select {
		case t.stream <- obs:
		default:
			// The attempt loop is behind; dropping keeps the scanner
			// and broker unblocked. Delivered observations stay in
			// arrival order.
			t.dropped++
		}
	}
}

func (h *Hub) handleEvent(scannerID string, payload []byte) {
	var event ScannerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("scanner event decode failed", "scanner", scannerID, "error", err)
		return
	}
	if event.Event != "connect_result" {
		return
	}

	h.mu.Lock()
	ch, ok := h.pending[event.RequestID]
	if ok {
		delete(h.pending, event.RequestID)
	}
	h.mu.Unlock()

	if ok {
		ch <- event.OK
	}
}

// scannerFor resolves the scanner covering a room.
func (h *Hub) scannerFor(room string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.rooms[room]
	return id, ok
}

func (h *Hub) addTap(t *tap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps[t] = struct{}{}
}

// removeTap detaches a stream. Returns true the first time so exactly
// one caller closes the channel.
func (h *Hub) removeTap(t *tap) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.taps[t]; !ok {
		return false
	}
	delete(h.taps, t)
	if t.dropped > 0 {
		h.logger.Warn("observations dropped during attempt", "scanner", t.scannerID, "dropped", t.dropped)
	}
	return true
}

// connect publishes a connect command to a scanner and waits for the
// correlated result event.
func (h *Hub) connect(ctx context.Context, scannerID, address string) error {
	requestID := uuid.NewString()
	result := make(chan bool, 1)

	h.mu.Lock()
	h.pending[requestID] = result
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
	}()

	cmd := ScannerCommand{RequestID: requestID, Command: "connect", Address: address}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := fmt.Sprintf("scanners/%s/commands", scannerID)
	if err := h.pub.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish connect command: %w", err)
	}

	select {
	case ok := <-result:
		if !ok {
			return ErrConnectFailed
		}
		return nil
	case <-time.After(connectTimeout):
		return fmt.Errorf("connect timed out: %w", ErrConnectFailed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionRadio is the per-attempt Radio view over the hub. It owns at
// most one tap; starting discovery replaces any prior stream so an
// attempt never sees two streams at once.
type SessionRadio struct {
	hub  *Hub
	room string

	mu      sync.Mutex
	current *tap
	cancel  context.CancelFunc
}

// StartDiscovery opens the observation stream for the scanner covering
// the session's room. The stream lives until StopDiscovery or ctx
// cancellation; the attempt's own deadline logic decides when to give
// up. Returns ErrPermissionDenied when no online scanner is registered
// there.
func (r *SessionRadio) StartDiscovery(ctx context.Context, room string) (<-chan model.ScanObservation, error) {
	if room == "" {
		room = r.room
	}

	scannerID, ok := r.hub.scannerFor(room)
	if !ok {
		return nil, fmt.Errorf("room %q: %w", room, ErrPermissionDenied)
	}

	r.StopDiscovery()

	t := &tap{scannerID: scannerID, stream: make(chan model.ScanObservation, 64)}
	streamCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.current = t
	r.cancel = cancel
	r.mu.Unlock()

	r.hub.addTap(t)

	go func() {
		<-streamCtx.Done()
		if r.hub.removeTap(t) {
			close(t.stream)
		}
	}()

	r.hub.logger.Info("discovery started", "room", room, "scanner", scannerID)
	return t.stream, nil
}

// StopDiscovery closes the active stream, if any. Safe to call twice.
func (r *SessionRadio) StopDiscovery() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.current = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Connect asks the session's scanner to connect to the beacon at
// address and waits for the result event.
func (r *SessionRadio) Connect(ctx context.Context, address string) error {
	r.mu.Lock()
	t := r.current
	r.mu.Unlock()
	if t == nil {
		return fmt.Errorf("no active discovery: %w", ErrConnectFailed)
	}
	return r.hub.connect(ctx, t.scannerID, address)
}
