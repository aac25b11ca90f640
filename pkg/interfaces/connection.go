package interfaces

// Connection is one accepted full-duplex socket.
// Implementations must allow WriteJSON and Close to be called from any
// goroutine while a single goroutine calls ReadMessage.
type Connection interface {
	// ID is unique per physical connection, not per participant.
	ID() string

	// ReadMessage blocks until the next text frame arrives or the
	// connection fails.
	ReadMessage() ([]byte, error)

	// WriteJSON encodes v and sends it. Writes issued from one goroutine
	// reach the peer in the order they were issued.
	WriteJSON(v any) error

	// Close is idempotent.
	Close() error
}
