package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write queue full: timed out enqueueing frame")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Handler-related errors
var (
	ErrInvalidParticipant = errors.New("invalid participant id in path")
	ErrShuttingDown       = errors.New("server is shutting down")
)
