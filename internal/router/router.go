package router

import (
	"log/slog"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Config controls routing limits.
type Config struct {
	// RateLimit is messages per RateWindow per participant; 0 disables it.
	RateLimit  int           `json:"rate_limit" validate:"gte=0"`
	RateWindow time.Duration `json:"rate_window" validate:"gt=0"`
}

// DefaultConfig allows 100 messages a minute.
func DefaultConfig() Config {
	return Config{RateLimit: 100, RateWindow: time.Minute}
}

// Router applies the admin/user routing policy: an admin message goes to the
// user it names, a user message always goes to the admin.
type Router struct {
	rateLimiter *RateLimiter
	log         *slog.Logger
}

var _ interfaces.MessageRouter = (*Router)(nil)

// NewRouter creates a new message router
func NewRouter(config Config, log *slog.Logger) *Router {
	return &Router{
		rateLimiter: NewRateLimiter(config.RateLimit, config.RateWindow),
		log:         log.With("component", "router"),
	}
}

// RateLimiter exposes the limiter so the application can run its janitor.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// Resolve validates a chat frame and returns where it must be stored and
// delivered. It never touches the store or the registry.
func (r *Router) Resolve(role types.Role, participantID int64, frame *types.InboundFrame) (*types.Route, error) {
	if err := r.validateType(role, frame.Type); err != nil {
		return nil, err
	}
	if err := types.ValidateContent(frame.Content); err != nil {
		return nil, err
	}

	var route *types.Route
	switch role {
	case types.RoleAdmin:
		if err := types.ValidateTarget(frame.UserID); err != nil {
			return nil, err
		}
		route = &types.Route{
			SenderID:           types.AdminID,
			ReceiverID:         frame.UserID,
			ConversationUserID: frame.UserID,
		}
	default:
		route = &types.Route{
			SenderID:           participantID,
			ReceiverID:         types.AdminID,
			ConversationUserID: participantID,
		}
	}

	if !r.rateLimiter.Allow(route.SenderID) {
		r.log.Warn("Rate limit exceeded", "participant_id", route.SenderID)
		return nil, ErrRateLimitExceeded
	}
	return route, nil
}

func (r *Router) validateType(role types.Role, frameType string) error {
	switch frameType {
	case role.MessageType():
		return nil
	case types.FrameTypeMessage, types.FrameTypeAdminMessage:
		return ErrUnauthorizedMessageType
	default:
		return ErrInvalidMessageType
	}
}
