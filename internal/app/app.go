// Package app wires the RollCall services together: the embedded MQTT
// broker fed by classroom scanners, the attendance attempt manager, the
// reconciler per user identity, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"rollcall/attendance-server/internal/attendance"
	"rollcall/attendance-server/internal/config"
	"rollcall/attendance-server/internal/mqttbroker"
	"rollcall/attendance-server/internal/radio"
	"rollcall/attendance-server/internal/remote"
	"rollcall/attendance-server/internal/store"

	"github.com/grandcat/zeroconf"
)

// App wires together the RollCall services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	broker *mqttbroker.Broker
	hub    *radio.Hub
	remote *remote.Client
	mdns   *zeroconf.Server

	attemptsMu sync.Mutex
	attempts   map[string]*attempt

	reconcilersMu sync.Mutex
	reconcilers   map[string]*attendance.Reconciler
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		attempts:    make(map[string]*attempt),
		reconcilers: make(map[string]*attendance.Reconciler),
	}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.remote = remote.New(a.cfg.RecordsURL, 10*time.Second)

	broker := mqttbroker.New(a.logger)
	a.hub = radio.NewHub(broker, a.logger)
	broker.SetPublishHandler(a.handleMQTTPublish)
	brokerErrCh, err := broker.Start(a.cfg.MQTTBindAddress)
	if err != nil {
		return err
	}
	a.broker = broker

	if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
		a.logger.Warn("mDNS advertisement failed", "error", err)
	}
	defer a.stopMDNS()

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				a.pruneAttempts(now)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.stopAllAttempts()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if err := a.broker.Stop(); err != nil {
				return err
			}
			a.logger.Info("mqtt broker stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				a.stopAllAttempts()
				_ = a.broker.Stop()
				return err
			}
		case err, ok := <-brokerErrCh:
			if !ok {
				brokerErrCh = nil
				continue
			}
			if err != nil {
				a.stopAllAttempts()
				_ = httpServer.Shutdown(context.Background())
				_ = a.broker.Stop()
				return err
			}
		}
	}
}

func (a *App) handleMQTTPublish(ctx context.Context, msg mqttbroker.PublishMessage) {
	switch {
	case strings.HasPrefix(msg.Topic, "scanners/"):
		a.hub.HandleMessage(ctx, msg.Topic, msg.Payload)
	default:
		// ignore for now
	}
}

// reconcilerFor returns the per-user reconciler, creating it on first
// use. Each carries the user identity plus the store collaborators, so
// no handler reads ambient "current user" state.
func (a *App) reconcilerFor(userKey string) *attendance.Reconciler {
	a.reconcilersMu.Lock()
	defer a.reconcilersMu.Unlock()

	rec, ok := a.reconcilers[userKey]
	if !ok {
		rec = attendance.NewReconciler(userKey, a.remote, a.store, a.logger)
		a.reconcilers[userKey] = rec
	}
	return rec
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/attempts", a.handleAttempts)
	mux.HandleFunc("/api/attempts/", a.handleAttemptByID)
	mux.HandleFunc("/api/attendance", a.handleAttendance)
	mux.HandleFunc("/api/config", a.handleConfig)

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.broker == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
