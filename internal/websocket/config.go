package websocket

import "time"

// Config holds socket level settings.
type Config struct {
	// SendQueueSize is the per-connection outbound buffer.
	SendQueueSize  int           `json:"send_queue_size" validate:"gt=0"`
	EnqueueTimeout time.Duration `json:"enqueue_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `json:"write_timeout" validate:"gt=0"`
	// MaxMessageBytes caps one inbound frame.
	MaxMessageBytes  int64         `json:"max_message_bytes" validate:"gt=0"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" validate:"gt=0"`
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`
}

// DefaultConfig returns the socket settings used when nothing is set.
func DefaultConfig() Config {
	return Config{
		SendQueueSize:    100,
		EnqueueTimeout:   5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxMessageBytes:  256 * 1024,
		HandshakeTimeout: 10 * time.Second,
	}
}
