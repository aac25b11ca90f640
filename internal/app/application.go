package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/websocket"
)

// Application coordinates all system components
type Application struct {
	config    *config.Config
	log       *slog.Logger
	store     *database.Manager
	registry  *websocket.Registry
	router    *router.Router
	sessions  *session.Manager
	apiServer *api.Server

	listener      net.Listener
	serveErr      chan error
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// NewApplication wires every component in dependency order:
// store, registry, router, sessions, websocket handler, HTTP server.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := database.NewManager(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message store: %w", err)
	}

	registry := websocket.NewRegistry(log)
	messageRouter := router.NewRouter(cfg.Chat, log)
	sessions := session.NewManager(session.Dependencies{
		Registry: registry,
		Store:    store,
		Router:   messageRouter,
	}, cfg.Session, log)

	apiServer := api.NewServer(store, store, registry, sessions, log)
	apiServer.SetTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	apiServer.RegisterWebSocket(websocket.NewHandler(sessions, cfg.WebSocket, log))

	return &Application{
		config:    cfg,
		log:       log,
		store:     store,
		registry:  registry,
		router:    messageRouter,
		sessions:  sessions,
		apiServer: apiServer,
		serveErr:  make(chan error, 1),
	}, nil
}

// Start binds the listener and begins serving in the background. Bind
// failures are returned directly.
func (app *Application) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.config.HTTP.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.HTTP.Addr(), err)
	}
	app.listener = listener

	janitorCtx, cancel := context.WithCancel(context.Background())
	app.janitorCancel = cancel
	app.janitorDone = make(chan struct{})
	go func() {
		defer close(app.janitorDone)
		app.router.RateLimiter().RunJanitor(janitorCtx, app.config.Chat.RateWindow)
	}()

	go func() {
		if err := app.apiServer.Serve(listener); err != nil {
			app.serveErr <- err
		}
	}()

	app.log.Info("Chat relay started", "addr", listener.Addr().String())
	return nil
}

// Errors reports a fatal serving error after Start.
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Addr returns the bound listener address, or the configured one before
// Start.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.config.HTTP.Addr()
}

// Stop shuts down in order: HTTP, chat sessions, limiter janitor, store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down chat relay")
	var errs []error

	if err := app.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		// Whatever is still open gets closed without waiting.
		app.registry.CloseAll()
	}
	if app.janitorCancel != nil {
		app.janitorCancel()
		<-app.janitorDone
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	app.log.Info("Chat relay shutdown complete")
	return errors.Join(errs...)
}
