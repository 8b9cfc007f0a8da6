package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/api"
	"liveboard/internal/broadcast"
	"liveboard/internal/config"
	"liveboard/internal/hub"
	"liveboard/internal/metrics"
	"liveboard/internal/session"
	"liveboard/internal/ws"
)

// Application owns every component and wires them in dependency order:
// store, registry, scheduler, dedup, hub, terminator, coordinator,
// API, HTTP. No component reaches for process-wide state; everything
// is constructed here and injected.
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	store       *session.Store
	registry    *ws.Registry
	scheduler   *broadcast.Scheduler
	hub         *hub.Hub
	coordinator *session.Coordinator
	httpServer  *http.Server
}

// NewApplication builds the full component graph.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := session.OpenStore(cfg.Session.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}

	registry := ws.NewRegistry()
	mtr := metrics.New(registry.CountConnections)

	scheduler := broadcast.NewScheduler(registry, cfg.Broadcast.MinInterval, logger, mtr)
	dedup := broadcast.NewDedup(cfg.Dedup.Capacity, cfg.Dedup.TTL, cfg.Dedup.Bucket)
	msgHub := hub.NewHub(dedup, scheduler, cfg.WebSocket.HubQueueSize, logger, mtr)

	terminator := session.NewTerminator(scheduler, cfg.Session.Countdown, logger)
	coordinator := session.NewCoordinator(store, terminator, logger)

	monitor := ws.NewMonitor(registry, cfg.WebSocket.PingInterval, logger)
	wsHandler := ws.NewHandler(registry, monitor, msgHub, cfg.WebSocket.BufferSize, logger)

	apiServer := api.NewServer(registry, coordinator, mtr.Handler(), logger)

	mux := http.NewServeMux()
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.Handle("/api/", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger,
		store:       store,
		registry:    registry,
		scheduler:   scheduler,
		hub:         msgHub,
		coordinator: coordinator,
		httpServer:  httpServer,
	}, nil
}

// Broadcaster returns the write-path contract handed to the CRUD
// layer: after a successful entity mutation it calls
// Broadcast(kind, record, requestSessionID).
func (a *Application) Broadcaster() *broadcast.Scheduler {
	return a.scheduler
}

// Coordinator returns the login-path contract.
func (a *Application) Coordinator() *session.Coordinator {
	return a.coordinator
}

// Start brings the hub up, then the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting liveboard", zap.String("addr", a.httpServer.Addr))

	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		_ = a.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("liveboard started")
		return nil
	case <-ctx.Done():
		_ = a.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP, live connections,
// hub, store.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down liveboard")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}

	a.registry.ForEachAll(func(conn *ws.Connection) {
		_ = conn.Close()
	})

	if err := a.hub.Stop(); err != nil {
		a.logger.Warn("hub shutdown", zap.Error(err))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("store shutdown", zap.Error(err))
	}

	a.logger.Info("liveboard shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
