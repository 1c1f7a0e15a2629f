// Package app wires the coordinator's components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/api"
	"liveclass/internal/bus"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/hub"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	"liveclass/pkg/auth"
	"liveclass/pkg/interfaces"
)

// Application owns every long-lived component of one coordinator process
type Application struct {
	config   *config.Config
	store    interfaces.ClassStore
	classes  *session.Manager
	relay    bus.Bus
	hub      *hub.Hub
	server   *http.Server
	listener net.Listener
	log      *slog.Logger

	serveErr chan error
	stopOnce sync.Once
}

// NewApplication builds components in dependency order:
// store -> classes -> relay -> hub -> websocket handler -> API -> HTTP
func NewApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open class store: %w", err)
	}

	classes := session.NewManager(store, cfg.Room.OpenAdmission, log)
	if err := classes.LoadLiveClasses(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load live classes: %w", err)
	}

	a := &Application{config: cfg, store: store, classes: classes, log: log, serveErr: make(chan error, 1)}

	opts := []hub.Option{
		hub.WithArchive(database.NewArchiver(store, cfg.Room.ArchiveQueue, log)),
		hub.WithTask(a.refreshLoop),
	}
	if cfg.Redis.Enabled() {
		rb, err := bus.NewRedisBus(ctx, bus.RedisOptions{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect relay: %w", err)
		}
		a.relay = rb
		opts = append(opts, hub.WithBus(bus.NewPublisher(rb, uuid.NewString(), cfg.Redis.Queue, log)))
	}

	a.hub = hub.New(hub.Config{
		MaxConnections:  cfg.WebSocket.MaxConnections,
		MaxRoomMembers:  cfg.Room.MaxMembers,
		ChatLimit:       cfg.Room.ChatRateLimit,
		ChatWindow:      cfg.Room.ChatRateWindow,
		CleanupInterval: cfg.Room.CleanupInterval,
	}, classes, log, opts...)

	var verifier websocket.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.New(cfg.Auth.JWTSecret)
	} else {
		log.Warn("no auth secret configured; trusting user_id query parameter")
	}
	ws := websocket.NewHandler(a.hub, verifier, websocket.HandlerOptions{
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Connection: websocket.ConnectionOptions{
			SoftLimit:    cfg.WebSocket.SoftQueue,
			HardLimit:    cfg.WebSocket.HardQueue,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
		},
	}, log)

	a.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewServer(a.hub, classes, store, ws, cfg.HTTP.AllowedOrigins, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

// refreshLoop re-reads live classes and closes the rooms of classes that
// ended outside this process
func (a *Application) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.Room.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshOnce(ctx)
		}
	}
}

func (a *Application) refreshOnce(ctx context.Context) {
	ended, err := a.classes.RefreshCache(ctx)
	if err != nil {
		a.log.Warn("live class refresh failed", "error", err)
		return
	}
	for _, id := range ended {
		a.hub.CloseRoom(id, "class ended")
	}
}

// Start runs the hub, then begins accepting HTTP connections. The listener
// is bound before Start returns so bind errors surface here
func (a *Application) Start(ctx context.Context) error {
	if err := a.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		_ = a.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	a.log.Info("liveclass started", "addr", ln.Addr().String(), "relay", a.relay != nil)
	return nil
}

// Errors reports a fatal serve error after Start
func (a *Application) Errors() <-chan error { return a.serveErr }

// Stop shuts down in reverse order: HTTP -> hub -> relay -> store
func (a *Application) Stop(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub stop: %w", err))
		}
		if a.relay != nil {
			if err := a.relay.Close(); err != nil {
				errs = append(errs, fmt.Errorf("relay close: %w", err))
			}
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		a.log.Info("liveclass stopped")
	})
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before
func (a *Application) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.server.Addr
}

// Hub exposes the coordinator, mainly for tests
func (a *Application) Hub() *hub.Hub { return a.hub }

// Store exposes the class store, mainly for seeding and tests
func (a *Application) Store() interfaces.ClassStore { return a.store }
