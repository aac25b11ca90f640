package websocket

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

// Handler upgrades chat requests and hands each socket to a session.
type Handler struct {
	sessions *session.Manager
	config   Config
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *session.Manager, config Config, log *slog.Logger) *Handler {
	h := &Handler{
		sessions: sessions,
		config:   config,
		log:      log.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// Register mounts the websocket routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/ws/admin", h.HandleAdmin)
	g.GET("/ws/chat/:user_id", h.HandleUser)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.config.AllowedOrigins, r.Header.Get("Origin"))
}

// HandleAdmin serves the admin websocket.
func (h *Handler) HandleAdmin(c echo.Context) error {
	return h.serve(c, types.RoleAdmin, types.AdminID)
}

// HandleUser serves an end-user websocket. Id 0 is accepted as an alias for
// the admin endpoint.
func (h *Handler) HandleUser(c echo.Context) error {
	participantID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, ErrInvalidParticipant.Error())
	}
	if participantID == 0 {
		return h.serve(c, types.RoleAdmin, types.AdminID)
	}
	if types.ValidateParticipantID(participantID) != nil || participantID == types.AdminID {
		return echo.NewHTTPError(http.StatusBadRequest, ErrInvalidParticipant.Error())
	}
	return h.serve(c, types.RoleUser, participantID)
}

// serve blocks for the lifetime of the session.
func (h *Handler) serve(c echo.Context, role types.Role, participantID int64) error {
	if !h.sessions.Accepting() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrShuttingDown.Error())
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Warn("WebSocket upgrade failed", "participant_id", participantID, "error", err)
		return nil
	}

	conn := NewConnection(ws, h.config, h.log)
	if err := h.sessions.Serve(role, participantID, conn); err != nil {
		h.log.Warn("Session ended with error", "participant_id", participantID, "error", err)
	}
	return nil
}
