package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// queryTimeout bounds every store read made by a request.
const queryTimeout = 5 * time.Second

// Presence is the slice of the connection registry the API reports on.
type Presence interface {
	Stats() websocket.Stats
}

// SessionCounter reports how many chat sessions are live.
type SessionCounter interface {
	ActiveSessions() int
}

// Server is the HTTP surface: the read API plus whatever websocket routes
// are mounted on it.
type Server struct {
	e        *echo.Echo
	store    interfaces.MessageStore
	users    interfaces.UserDirectory
	presence Presence
	sessions SessionCounter
	log      *slog.Logger
	started  time.Time
}

// NewServer builds the echo instance and registers the read routes.
func NewServer(store interfaces.MessageStore, users interfaces.UserDirectory, presence Presence, sessions SessionCounter, log *slog.Logger) *Server {
	s := &Server{
		e:        echo.New(),
		store:    store,
		users:    users,
		presence: presence,
		sessions: sessions,
		log:      log.With("component", "http"),
		started:  time.Now(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.handleError

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	s.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				s.log.Warn("Request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.log.Info("Request", attrs...)
			return nil
		},
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.e.GET("/health", s.healthCheck)

	chat := s.e.Group("/api/chat")
	chat.GET("/history/:user_id", s.history)
	chat.GET("/stats/total", s.totalMessages)
	chat.GET("/stats/online", s.online)
}

// RegisterWebSocket mounts the chat websocket endpoints.
func (s *Server) RegisterWebSocket(h *websocket.Handler) {
	h.Register(s.e.Group("/api/chat"))
}

// ServeHTTP lets the server be driven by httptest or any http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// SetTimeouts applies read and write timeouts to the underlying server.
func (s *Server) SetTimeouts(read, write time.Duration) {
	s.e.Server.ReadTimeout = read
	s.e.Server.WriteTimeout = write
}

// Serve accepts connections on l and blocks until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.e.Listener = l
	s.log.Info("HTTP server listening", "addr", l.Addr().String())
	if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) history(c echo.Context) error {
	participantID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || types.ValidateParticipantID(participantID) != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be a positive integer")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	if _, err := s.users.LookupUser(ctx, participantID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("user %d not found", participantID))
		}
		return fmt.Errorf("lookup user %d: %w", participantID, err)
	}

	messages, err := s.store.HistoryFor(ctx, participantID)
	if err != nil {
		return fmt.Errorf("history for %d: %w", participantID, err)
	}

	entries := lo.Map(messages, func(m *types.Message, _ int) types.HistoryEntry {
		return types.NewHistoryEntry(m)
	})
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) totalMessages(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	total, err := s.store.CountAll(ctx)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	return c.JSON(http.StatusOK, TotalResponse{Total: total})
}

func (s *Server) online(c echo.Context) error {
	stats := s.presence.Stats()
	return c.JSON(http.StatusOK, OnlineResponse{
		Connections: stats.Connections,
		AdminOnline: stats.AdminOnline,
	})
}

func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	response := HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC(),
		Database:       "healthy",
		Connections:    s.presence.Stats(),
		ActiveSessions: s.sessions.ActiveSessions(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}

	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		s.log.Error("Health check failed", "error", err)
		response.Status = "unhealthy"
		response.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, response)
}

// handleError renders every error as ErrorResponse. Internal details stay
// in the log.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
	} else {
		s.log.Error("Unhandled request error", "uri", c.Request().RequestURI, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{
			Error:   http.StatusText(code),
			Code:    code,
			Message: message,
		})
	}
	if err != nil {
		s.log.Warn("Failed to write error response", "error", err)
	}
}
