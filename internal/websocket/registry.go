package websocket

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Entry is one live participant binding.
type Entry struct {
	ParticipantID int64
	Conn          interfaces.Connection
	ConnectedAt   time.Time
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections  int     `json:"connections"`
	AdminOnline  bool    `json:"admin_online"`
	Participants []int64 `json:"participants"`
}

// Registry maps participant ids to their single live connection. Writes to
// sockets always happen outside the lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	log     *slog.Logger
}

var _ interfaces.ConnectionRegistry = (*Registry)(nil)

// NewRegistry creates a new connection registry
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[int64]*Entry),
		log:     log.With("component", "registry"),
	}
}

// Register binds conn to participantID. A connection already bound to the id
// is replaced and closed asynchronously so its session tears down.
func (r *Registry) Register(participantID int64, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if err := types.ValidateParticipantID(participantID); err != nil {
		return err
	}

	r.mu.Lock()
	existing, replaced := r.entries[participantID]
	r.entries[participantID] = &Entry{
		ParticipantID: participantID,
		Conn:          conn,
		ConnectedAt:   time.Now().UTC(),
	}
	r.mu.Unlock()

	if replaced && existing.Conn != conn {
		r.log.Info("Replacing connection", "participant_id", participantID,
			"old_connection_id", existing.Conn.ID(), "new_connection_id", conn.ID())
		go func(old interfaces.Connection) {
			if err := old.Close(); err != nil {
				r.log.Debug("Closing replaced connection failed", "participant_id", participantID, "error", err)
			}
		}(existing.Conn)
	}
	return nil
}

// Unregister removes the binding only if it still points at conn. It reports
// whether anything was removed.
func (r *Registry) Unregister(participantID int64, conn interfaces.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[participantID]
	if !exists || entry.Conn != conn {
		return false
	}
	delete(r.entries, participantID)
	return true
}

// Lookup returns the live connection for a participant.
func (r *Registry) Lookup(participantID int64) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[participantID]
	if !exists {
		return nil, false
	}
	return entry.Conn, true
}

// SendTo writes payload to the participant's connection. Absent recipients
// and failed writes return false; neither is an error for the caller.
func (r *Registry) SendTo(participantID int64, payload any) bool {
	conn, ok := r.Lookup(participantID)
	if !ok {
		return false
	}
	if err := conn.WriteJSON(payload); err != nil {
		r.log.Warn("Failed to deliver frame", "participant_id", participantID, "error", err)
		return false
	}
	return true
}

// Broadcast sends payload to every participant except exclude and returns
// how many writes succeeded.
func (r *Registry) Broadcast(payload any, exclude int64) int {
	targets := lo.Filter(r.snapshot(), func(e Entry, _ int) bool {
		return e.ParticipantID != exclude
	})

	delivered := 0
	for _, entry := range targets {
		if err := entry.Conn.WriteJSON(payload); err != nil {
			r.log.Warn("Failed to broadcast frame", "participant_id", entry.ParticipantID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns registry statistics for monitoring.
func (r *Registry) Stats() Stats {
	entries := r.snapshot()
	ids := lo.Map(entries, func(e Entry, _ int) int64 { return e.ParticipantID })
	slices.Sort(ids)
	return Stats{
		Connections:  len(entries),
		AdminOnline:  lo.Contains(ids, types.AdminID),
		Participants: ids,
	}
}

// CloseAll closes every registered connection. Sessions unregister
// themselves as they tear down.
func (r *Registry) CloseAll() int {
	entries := r.snapshot()
	for _, entry := range entries {
		_ = entry.Conn.Close()
	}
	return len(entries)
}

func (r *Registry) snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapToSlice(r.entries, func(_ int64, e *Entry) Entry { return *e })
}
