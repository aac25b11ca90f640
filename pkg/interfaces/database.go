//go:generate go run go.uber.org/mock/mockgen -source=database.go -destination=mocks/mock_database.go -package=mocks
package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// MessageStore is the durable, append-only message log.
type MessageStore interface {
	// OpenSession returns a persistence handle owned by one connection.
	OpenSession(ctx context.Context) (StoreSession, error)

	// HistoryFor returns every message the participant sent or received,
	// ascending by creation time.
	HistoryFor(ctx context.Context, participantID int64) ([]*types.Message, error)

	// CountAll returns the total number of stored messages.
	CountAll(ctx context.Context) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// StoreSession is a per-connection persistence handle. A failed Append
// rolls back only its own transaction.
type StoreSession interface {
	// Append stores a message and returns it with ID and CreatedAt assigned.
	Append(ctx context.Context, senderID, receiverID int64, content string) (*types.Message, error)

	Close() error
}

// UserDirectory resolves participant ids against the user records owned by
// the surrounding system.
type UserDirectory interface {
	// LookupUser returns ErrUserNotFound for unknown ids.
	LookupUser(ctx context.Context, id int64) (*types.User, error)
}
