package session

import "time"

// Config controls session liveness and persistence.
type Config struct {
	PingInterval time.Duration `json:"ping_interval" validate:"gt=0"`
	// MaxMissedPongs closes a connection after that many unanswered pings;
	// 0 disables the check.
	MaxMissedPongs int           `json:"max_missed_pongs" validate:"gte=0"`
	PersistTimeout time.Duration `json:"persist_timeout" validate:"gt=0"`
}

// DefaultConfig pings every 20 seconds and gives up after 3 missed pongs.
func DefaultConfig() Config {
	return Config{
		PingInterval:   20 * time.Second,
		MaxMissedPongs: 3,
		PersistTimeout: 10 * time.Second,
	}
}
