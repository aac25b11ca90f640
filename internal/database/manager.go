package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// busyRetryDelay is how long the writer waits before retrying a write that
// hit SQLITE_BUSY.
const busyRetryDelay = 100 * time.Millisecond

// Manager is the SQLite message store and user directory. Reads run on the
// pool concurrently; every write goes through one writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	writerDone   chan struct{}
	wg           sync.WaitGroup
	openSessions atomic.Int64
	closed       bool
	mu           sync.RWMutex
}

var (
	_ interfaces.MessageStore  = (*Manager)(nil)
	_ interfaces.UserDirectory = (*Manager)(nil)
)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and pending migrations, and
// starts the writer.
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log.With("component", "store"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		writerDone:   make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	manager.log.Info("Message store opened", "path", config.DatabasePath)
	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. Writes
// still queued at shutdown are answered with ErrStoreClosed.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.writerDone)

	for {
		select {
		case op := <-m.writeChannel:
			m.runWrite(op)

		case <-m.shutdown:
			m.log.Debug("Database write loop shutting down")
			m.drainWrites()
			return
		}
	}
}

func (m *Manager) runWrite(op writeOperation) {
	err := op.operation(m.db)
	if isBusy(err) {
		m.log.Warn("Database busy, retrying write", "error", err)
		time.Sleep(busyRetryDelay)
		err = op.operation(m.db)
	}
	if err != nil {
		m.log.Error("Database write failed", "error", err)
	}
	op.result <- err
}

func (m *Manager) drainWrites() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- interfaces.ErrStoreClosed
		default:
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	// result is buffered, so the writer never blocks on an abandoned wait.
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.writerDone:
		// The write may have been answered just before the writer exited.
		select {
		case err := <-result:
			return err
		default:
			return interfaces.ErrStoreClosed
		}
	}
}

// OpenSession returns a persistence handle for one connection.
func (m *Manager) OpenSession(ctx context.Context) (interfaces.StoreSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, interfaces.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.openSessions.Add(1)
	return &storeSession{manager: m}, nil
}

// OpenSessions reports how many store sessions are currently open.
func (m *Manager) OpenSessions() int64 {
	return m.openSessions.Load()
}

// appendMessage inserts one message in its own transaction.
func (m *Manager) appendMessage(ctx context.Context, senderID, receiverID int64, content string) (*types.Message, error) {
	message := &types.Message{
		Content:    content,
		SenderID:   senderID,
		ReceiverID: &receiverID,
		CreatedAt:  time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (content, sender_id, receiver_id, created_at) VALUES (?, ?, ?, ?)`,
			message.Content,
			message.SenderID,
			receiverID,
			message.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		message.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// HistoryFor returns the participant's messages, oldest first.
func (m *Manager) HistoryFor(ctx context.Context, participantID int64) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, content, sender_id, receiver_id, created_at
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at ASC, id ASC
	`, participantID, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var (
			message    types.Message
			receiverID sql.NullInt64
		)
		if err := rows.Scan(&message.ID, &message.Content, &message.SenderID, &receiverID, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if receiverID.Valid {
			message.ReceiverID = &receiverID.Int64
		}
		message.CreatedAt = message.CreatedAt.UTC()
		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// CountAll returns the total number of stored messages.
func (m *Manager) CountAll(ctx context.Context) (int64, error) {
	var total int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, nil
}

// LookupUser resolves a user record by id.
func (m *Manager) LookupUser(ctx context.Context, id int64) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, email, name, is_admin, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.log.Info("Message store closed")
	return nil
}

// storeSession is the per-connection handle. It holds no pooled connection,
// so an idle chat session costs nothing on the database side.
type storeSession struct {
	manager *Manager
	closed  atomic.Bool
}

func (s *storeSession) Append(ctx context.Context, senderID, receiverID int64, content string) (*types.Message, error) {
	if s.closed.Load() {
		return nil, interfaces.ErrStoreSessionClosed
	}
	return s.manager.appendMessage(ctx, senderID, receiverID, content)
}

func (s *storeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.manager.openSessions.Add(-1)
	}
	return nil
}
