package session

import (
	"context"
	"log/slog"
	"sync"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Manager owns the base context every chat session runs on and tracks the
// sessions that are currently live.
type Manager struct {
	deps   Dependencies
	config Config
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	active map[string]*Session // connection id -> session
	closed bool
}

// NewManager creates a new session manager
func NewManager(deps Dependencies, config Config, log *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		config: config,
		log:    log.With("component", "sessions"),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*Session),
	}
}

// Serve runs a session for conn and blocks until it has torn down.
func (m *Manager) Serve(role types.Role, participantID int64, conn interfaces.Connection) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	s := New(role, participantID, conn, m.deps, m.config, m.log)
	m.active[conn.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, conn.ID())
		m.mu.Unlock()
		m.wg.Done()
	}()

	return s.Run(m.ctx)
}

// Accepting reports whether new sessions are still admitted.
func (m *Manager) Accepting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// ActiveSessions returns the number of sessions that have not finished
// teardown.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Shutdown stops admitting sessions, cancels the live ones, and waits for
// them to tear down or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	count := len(m.active)
	m.mu.Unlock()

	m.log.Info("Shutting down sessions", "active", count)
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
