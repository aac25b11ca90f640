package interfaces

import (
	"chatrelay/pkg/types"
)

// MessageRouter decides who a decoded inbound message is for.
type MessageRouter interface {
	// Resolve returns the durable and live recipient of a chat frame sent by
	// participantID in a session of the given role.
	Resolve(role types.Role, participantID int64, frame *types.InboundFrame) (*types.Route, error)
}
