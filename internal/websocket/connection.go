package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatrelay/pkg/interfaces"
)

// closeGracePeriod bounds the close control frame write.
const closeGracePeriod = time.Second

// Connection wraps a gorilla socket with a single writer goroutine. All
// outbound frames go through writeCh so writes on one socket never
// interleave.
type Connection struct {
	id             string
	conn           *websocket.Conn
	writeCh        chan []byte
	enqueueTimeout time.Duration
	writeTimeout   time.Duration
	log            *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn, config Config, log *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:             id,
		conn:           conn,
		writeCh:        make(chan []byte, config.SendQueueSize),
		enqueueTimeout: config.EnqueueTimeout,
		writeTimeout:   config.WriteTimeout,
		log:            log.With("connection_id", id),
		ctx:            ctx,
		cancel:         cancel,
	}
	conn.SetReadLimit(config.MaxMessageBytes)
	// Deadlines set by the HTTP server survive the hijack.
	_ = conn.SetReadDeadline(time.Time{})

	go c.writeLoop()

	return c
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// writeLoop never closes writeCh; WriteJSON may still be sending to it.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.log.Warn("Failed to set write deadline", "error", err)
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("Socket write failed, closing connection", "error", err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer. It succeeds once the frame is queued.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.enqueueTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage blocks for the next text frame. Binary frames are dropped.
func (c *Connection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return nil, ErrConnectionClosed
			default:
			}
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
		c.log.Debug("Dropping non-text frame", "message_type", messageType)
	}
}

// Close sends a close frame and releases the socket. Safe to call more than
// once and from any goroutine.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		err = c.conn.Close()
	})
	return err
}
