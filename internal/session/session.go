package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dependencies are the shared services a session talks to.
type Dependencies struct {
	Registry interfaces.ConnectionRegistry
	Store    interfaces.MessageStore
	Router   interfaces.MessageRouter
}

// Session drives one connected participant from handshake to teardown.
type Session struct {
	role          types.Role
	participantID int64
	conn          interfaces.Connection
	deps          Dependencies
	config        Config
	log           *slog.Logger

	state        atomic.Int32
	storeSession interfaces.StoreSession
	keepalive    *Keepalive
	teardownOnce sync.Once
}

// New builds a session for conn. Nothing happens until Run.
func New(role types.Role, participantID int64, conn interfaces.Connection, deps Dependencies, config Config, log *slog.Logger) *Session {
	return &Session{
		role:          role,
		participantID: participantID,
		conn:          conn,
		deps:          deps,
		config:        config,
		log: log.With(
			"participant_id", participantID,
			"role", string(role),
			"connection_id", conn.ID(),
		),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ParticipantID returns the id this session registered as.
func (s *Session) ParticipantID() int64 {
	return s.participantID
}

// Role returns which side of the conversation the session drives.
func (s *Session) Role() types.Role {
	return s.role
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Run performs the handshake and then processes frames until the socket
// fails or ctx is cancelled. Teardown has always completed when Run returns.
// Only handshake failures are returned as errors.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.log.Info("Session connecting")
	if err := s.open(ctx); err != nil {
		s.log.Error("Session handshake failed", "error", err)
		return err
	}
	s.setState(StateEstablished)
	s.log.Info("Session established")

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Session cancelled")
			} else {
				s.log.Info("Session read ended", "error", err)
			}
			return nil
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) open(ctx context.Context) error {
	storeSession, err := s.deps.Store.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.storeSession = storeSession

	if err := s.deps.Registry.Register(s.participantID, s.conn); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	if err := s.conn.WriteJSON(types.NewConnectedFrame(s.participantID)); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	s.keepalive = StartKeepalive(ctx, s.conn, s.config.PingInterval, s.config.MaxMissedPongs, s.log)
	return nil
}

// teardown releases everything the session acquired. The order matters:
// keepalive first so nothing writes to a socket that is going away, then the
// registry binding, then persistence, then the socket itself.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.setState(StateClosing)

		if s.keepalive != nil {
			s.keepalive.Stop()
		}
		if s.deps.Registry.Unregister(s.participantID, s.conn) {
			s.log.Debug("Connection unregistered")
		}
		if s.storeSession != nil {
			if err := s.storeSession.Close(); err != nil {
				s.log.Warn("Failed to close store session", "error", err)
			}
		}
		_ = s.conn.Close()

		s.setState(StateClosed)
		s.log.Info("Session closed")
	})
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic while handling frame", "panic", r)
		}
	}()

	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.log.Warn("Ignoring malformed frame", "error", err)
		return
	}

	switch frame.Type {
	case types.FrameTypePong:
		s.keepalive.Pong()
		s.log.Debug("Pong received")
	case s.role.MessageType():
		s.handleChat(ctx, &frame)
	default:
		s.log.Warn("Ignoring unrecognized frame", "type", frame.Type)
	}
}

// handleChat persists a chat frame and only then delivers it to both ends.
func (s *Session) handleChat(ctx context.Context, frame *types.InboundFrame) {
	route, err := s.deps.Router.Resolve(s.role, s.participantID, frame)
	if err != nil {
		if errors.Is(err, router.ErrRateLimitExceeded) {
			s.reject(frame.MessageID, types.ErrorCodeRateLimited, "too many messages, slow down")
			return
		}
		s.log.Warn("Ignoring invalid chat frame", "error", err)
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, s.config.PersistTimeout)
	defer cancel()

	message, err := s.storeSession.Append(persistCtx, route.SenderID, route.ReceiverID, frame.Content)
	if err != nil {
		s.log.Error("Failed to persist message", "receiver_id", route.ReceiverID, "error", err)
		s.reject(frame.MessageID, types.ErrorCodePersistFailed, "message could not be saved")
		return
	}

	notification := types.NewNewMessageFrame(message, route.ConversationUserID, frame.MessageID)
	if err := s.conn.WriteJSON(notification); err != nil {
		s.log.Warn("Failed to echo message to sender", "message_id", message.ID, "error", err)
	}
	delivered := s.deps.Registry.SendTo(route.ReceiverID, notification)
	s.log.Debug("Message routed", "message_id", message.ID, "receiver_id", route.ReceiverID, "delivered", delivered)
}

func (s *Session) reject(correlationID, code, message string) {
	if err := s.conn.WriteJSON(types.NewErrorFrame(correlationID, code, message)); err != nil {
		s.log.Warn("Failed to send error frame", "code", code, "error", err)
	}
}
