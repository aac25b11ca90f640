package api

import (
	"time"

	"chatrelay/internal/websocket"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TotalResponse carries the global message count.
type TotalResponse struct {
	Total int64 `json:"total"`
}

// OnlineResponse reports live presence.
type OnlineResponse struct {
	Connections int  `json:"connections"`
	AdminOnline bool `json:"admin_online"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status         string          `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
	Database       string          `json:"database"`
	Connections    websocket.Stats `json:"connections"`
	ActiveSessions int             `json:"active_sessions"`
	Uptime         string          `json:"uptime"`
}
