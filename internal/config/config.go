package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/websocket"
	dbconfig "chatrelay/pkg/database"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string           `json:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Database  *dbconfig.Config `json:"database" validate:"required"`
	HTTP      *HTTPConfig      `json:"http" validate:"required"`
	WebSocket websocket.Config `json:"websocket"`
	Session   session.Config   `json:"session"`
	Chat      router.Config    `json:"chat"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Host            string        `json:"host" validate:"required"`
	Port            int           `json:"port" validate:"gte=0,lte=65535"` // 0 picks a free port
	ReadTimeout     time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DefaultConfig returns a configuration that runs locally without any
// environment.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "INFO",
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: websocket.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Chat:      router.DefaultConfig(),
	}
}

var validate = validator.New()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// environment is the flat set of CHATRELAY_* variables. A nil field means the
// variable is unset.
type environment struct {
	ConfigFile *string `env:"CHATRELAY_CONFIG_FILE"`
	LogLevel   *string `env:"CHATRELAY_LOG_LEVEL"`

	DatabasePath           *string        `env:"CHATRELAY_DATABASE_PATH"`
	DatabaseMaxConnections *int           `env:"CHATRELAY_DATABASE_MAX_CONNECTIONS"`
	DatabaseWriteTimeout   *time.Duration `env:"CHATRELAY_DATABASE_WRITE_TIMEOUT"`

	HTTPHost            *string        `env:"CHATRELAY_HTTP_HOST"`
	HTTPPort            *int           `env:"CHATRELAY_HTTP_PORT"`
	HTTPReadTimeout     *time.Duration `env:"CHATRELAY_HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout    *time.Duration `env:"CHATRELAY_HTTP_WRITE_TIMEOUT"`
	HTTPShutdownTimeout *time.Duration `env:"CHATRELAY_HTTP_SHUTDOWN_TIMEOUT"`

	WebSocketSendQueueSize   *int           `env:"CHATRELAY_WEBSOCKET_SEND_QUEUE_SIZE"`
	WebSocketWriteTimeout    *time.Duration `env:"CHATRELAY_WEBSOCKET_WRITE_TIMEOUT"`
	WebSocketMaxMessageBytes *int64         `env:"CHATRELAY_WEBSOCKET_MAX_MESSAGE_BYTES"`
	WebSocketAllowedOrigins  *string        `env:"CHATRELAY_WEBSOCKET_ALLOWED_ORIGINS"`

	SessionPingInterval   *time.Duration `env:"CHATRELAY_SESSION_PING_INTERVAL"`
	SessionMaxMissedPongs *int           `env:"CHATRELAY_SESSION_MAX_MISSED_PONGS"`
	SessionPersistTimeout *time.Duration `env:"CHATRELAY_SESSION_PERSIST_TIMEOUT"`

	ChatRateLimit  *int           `env:"CHATRELAY_CHAT_RATE_LIMIT"`
	ChatRateWindow *time.Duration `env:"CHATRELAY_CHAT_RATE_WINDOW"`
}

// Load builds the configuration from defaults, then the environment (a .env
// file in the working directory is honoured), then the JSON file named by
// CHATRELAY_CONFIG_FILE.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var vars environment
	if _, err := env.UnmarshalFromEnviron(&vars); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config := DefaultConfig()
	vars.apply(config)

	if path := lo.FromPtr(vars.ConfigFile); path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}

	config.LogLevel = strings.ToUpper(config.LogLevel)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile reads a JSON config over the defaults, ignoring the
// environment.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.mergeFile(path); err != nil {
		return nil, err
	}
	config.LogLevel = strings.ToUpper(config.LogLevel)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func splitList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Compact(parts)
}

func (e *environment) apply(c *Config) {
	override(&c.LogLevel, e.LogLevel)

	override(&c.Database.DatabasePath, e.DatabasePath)
	override(&c.Database.MaxConnections, e.DatabaseMaxConnections)
	override(&c.Database.WriteTimeout, e.DatabaseWriteTimeout)

	override(&c.HTTP.Host, e.HTTPHost)
	override(&c.HTTP.Port, e.HTTPPort)
	override(&c.HTTP.ReadTimeout, e.HTTPReadTimeout)
	override(&c.HTTP.WriteTimeout, e.HTTPWriteTimeout)
	override(&c.HTTP.ShutdownTimeout, e.HTTPShutdownTimeout)

	override(&c.WebSocket.SendQueueSize, e.WebSocketSendQueueSize)
	override(&c.WebSocket.WriteTimeout, e.WebSocketWriteTimeout)
	override(&c.WebSocket.MaxMessageBytes, e.WebSocketMaxMessageBytes)
	if e.WebSocketAllowedOrigins != nil {
		c.WebSocket.AllowedOrigins = splitList(*e.WebSocketAllowedOrigins)
	}

	override(&c.Session.PingInterval, e.SessionPingInterval)
	override(&c.Session.MaxMissedPongs, e.SessionMaxMissedPongs)
	override(&c.Session.PersistTimeout, e.SessionPersistTimeout)

	override(&c.Chat.RateLimit, e.ChatRateLimit)
	override(&c.Chat.RateWindow, e.ChatRateWindow)
}

// fileConfig is the JSON layout. Durations are strings such as "20s".
type fileConfig struct {
	LogLevel *string `json:"log_level"`
	Database *struct {
		Path           *string `json:"path"`
		MaxConnections *int    `json:"max_connections"`
		WriteTimeout   *string `json:"write_timeout"`
	} `json:"database"`
	HTTP *struct {
		Host            *string `json:"host"`
		Port            *int    `json:"port"`
		ReadTimeout     *string `json:"read_timeout"`
		WriteTimeout    *string `json:"write_timeout"`
		ShutdownTimeout *string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		SendQueueSize   *int     `json:"send_queue_size"`
		WriteTimeout    *string  `json:"write_timeout"`
		MaxMessageBytes *int64   `json:"max_message_bytes"`
		AllowedOrigins  []string `json:"allowed_origins"`
	} `json:"websocket"`
	Session *struct {
		PingInterval   *string `json:"ping_interval"`
		MaxMissedPongs *int    `json:"max_missed_pongs"`
		PersistTimeout *string `json:"persist_timeout"`
	} `json:"session"`
	Chat *struct {
		RateLimit  *int    `json:"rate_limit"`
		RateWindow *string `json:"rate_window"`
	} `json:"chat"`
}

// durations collects parse errors so a file reports every bad value at once.
type durations struct {
	errs []string
}

func (d *durations) set(dst *time.Duration, name string, src *string) {
	if src == nil {
		return
	}
	parsed, err := time.ParseDuration(*src)
	if err != nil {
		d.errs = append(d.errs, fmt.Sprintf("%s: %v", name, err))
		return
	}
	*dst = parsed
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var d durations
	override(&c.LogLevel, file.LogLevel)

	if db := file.Database; db != nil {
		override(&c.Database.DatabasePath, db.Path)
		override(&c.Database.MaxConnections, db.MaxConnections)
		d.set(&c.Database.WriteTimeout, "database.write_timeout", db.WriteTimeout)
	}
	if h := file.HTTP; h != nil {
		override(&c.HTTP.Host, h.Host)
		override(&c.HTTP.Port, h.Port)
		d.set(&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		d.set(&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		d.set(&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}
	if ws := file.WebSocket; ws != nil {
		override(&c.WebSocket.SendQueueSize, ws.SendQueueSize)
		override(&c.WebSocket.MaxMessageBytes, ws.MaxMessageBytes)
		d.set(&c.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout)
		if ws.AllowedOrigins != nil {
			c.WebSocket.AllowedOrigins = ws.AllowedOrigins
		}
	}
	if s := file.Session; s != nil {
		d.set(&c.Session.PingInterval, "session.ping_interval", s.PingInterval)
		override(&c.Session.MaxMissedPongs, s.MaxMissedPongs)
		d.set(&c.Session.PersistTimeout, "session.persist_timeout", s.PersistTimeout)
	}
	if chat := file.Chat; chat != nil {
		override(&c.Chat.RateLimit, chat.RateLimit)
		d.set(&c.Chat.RateWindow, "chat.rate_window", chat.RateWindow)
	}

	if len(d.errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", path, strings.Join(d.errs, "; "))
	}
	return nil
}
