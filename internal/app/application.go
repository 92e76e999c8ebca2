// Package app constructs every component, wires them together and runs
// them for the life of the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"edurelay/internal/api"
	"edurelay/internal/config"
	"edurelay/internal/hub"
	"edurelay/internal/journal"
	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/internal/presence"
	"edurelay/internal/relay"
	"edurelay/internal/rooms"
	"edurelay/internal/roster"
	"edurelay/internal/websocket"
	"edurelay/pkg/interfaces"
)

// Application owns all process state. Nothing survives a restart.
type Application struct {
	config     *config.Config
	metrics    *metrics.Metrics
	journal    *journal.Manager
	rooms      *rooms.Store
	roster     *roster.Roster
	registry   *websocket.Registry
	relay      *relay.Relay
	presence   *presence.Synchronizer
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
}

// NewApplication builds the components in dependency order:
// journal → rooms → roster → registry → relay → presence → hub → API → HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		config:  cfg,
		metrics: metrics.New(),
	}

	// A disabled journal must stay a nil interface, not a typed nil.
	var j interfaces.Journal
	if cfg.Journal.Enabled {
		jm, err := journal.Open(journal.Config{Path: cfg.Journal.Path, WriteTimeout: cfg.Journal.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		app.journal = jm
		j = jm
	}

	app.rooms = rooms.NewStore(j, app.metrics)
	app.roster = roster.New(app.rooms, j)
	app.rooms.OnDeactivate(app.roster.Discard)

	app.registry = websocket.NewRegistry(app.metrics)
	app.relay = relay.New(app.registry, app.roster, app.metrics)
	app.presence = presence.New(presence.Config{
		PruneSchedule: cfg.Presence.PruneSchedule,
		StaleAfter:    cfg.Presence.StaleAfter,
	}, app.registry, app.roster, app.relay, app.metrics)

	limiter := relay.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateWindow)
	app.hub = hub.NewHub(app.roster, app.relay, app.presence, limiter, app.metrics)

	wsHandler := websocket.NewHandler(app.registry, app.hub, app.metrics, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		QueueSize:      cfg.WebSocket.QueueSize,
		MaxFrameSize:   cfg.WebSocket.MaxFrameSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	app.apiServer = api.NewServer(api.Dependencies{
		Rooms:          app.rooms,
		Roster:         app.roster,
		Relay:          app.relay,
		Registry:       app.registry,
		Journal:        j,
		Metrics:        app.metrics,
		WebSocket:      wsHandler.HandleWebSocket,
		ICEServers:     cfg.ICEServers(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// WriteTimeout does not apply to upgraded channels; they manage their
	// own deadlines.
	app.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// Start starts background work and begins serving. It returns once the
// listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if err := app.presence.Start(ctx); err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to start presence synchronizer: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.presence.Stop()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	app.serveErr = make(chan error, 1)

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			app.serveErr <- err
		}
		close(app.serveErr)
	}()

	logger.Info("edurelay started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("journal", app.journal != nil))
	return nil
}

// Errors yields a serve failure, if any, and is closed when serving ends.
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop shuts down in reverse order: HTTP, channels, background work, journal.
func (app *Application) Stop(ctx context.Context) error {
	var errs []error
	app.stopOnce.Do(func() {
		logger.Info("shutting down edurelay")

		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		// Hijacked channels are not closed by Shutdown.
		app.registry.CloseAll()

		if err := app.presence.Stop(); err != nil && !errors.Is(err, presence.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("presence stop: %w", err))
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub stop: %w", err))
		}
		if app.journal != nil {
			if err := app.journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("journal close: %w", err))
			}
		}

		logger.Info("edurelay shutdown complete")
	})
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP surface without a listener.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
