package router

import "errors"

var (
	ErrInvalidMessageType      = errors.New("invalid message type")
	ErrUnauthorizedMessageType = errors.New("role not authorized to send this message type")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
)
