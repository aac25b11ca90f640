package types

import (
	"time"
)

// AdminID is the participant id reserved for the operator. Every other
// positive id is an end-user.
const AdminID int64 = 1

// Frame type discriminators used on the wire.
const (
	FrameTypeConnected    = "connected"
	FrameTypePing         = "ping"
	FrameTypePong         = "pong"
	FrameTypeMessage      = "message"
	FrameTypeAdminMessage = "admin_message"
	FrameTypeNewMessage   = "new_message"
	FrameTypeError        = "error"
)

// Error codes carried by error frames.
const (
	ErrorCodePersistFailed = "persist_failed"
	ErrorCodeRateLimited   = "rate_limited"
)

// Role identifies which side of the conversation a session drives.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// MessageType returns the inbound frame type a session of this role accepts
// as a chat message.
func (r Role) MessageType() string {
	if r == RoleAdmin {
		return FrameTypeAdminMessage
	}
	return FrameTypeMessage
}

// Message is a durable chat message. It is immutable once the store has
// assigned its ID and CreatedAt.
type Message struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID *int64    `json:"receiver_id"` // nil means unaddressed
	CreatedAt  time.Time `json:"created_at"`
}

// IsFromAdmin reports whether the admin sent the message.
func (m *Message) IsFromAdmin() bool {
	return m.SenderID == AdminID
}

// Involves reports whether the participant sent or received the message.
func (m *Message) Involves(participantID int64) bool {
	if m.SenderID == participantID {
		return true
	}
	return m.ReceiverID != nil && *m.ReceiverID == participantID
}

// User is the identity record resolved by the user directory.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is the read API projection of a Message.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	SenderID    int64     `json:"sender_id"`
	ReceiverID  *int64    `json:"receiver_id"`
	IsFromAdmin bool      `json:"is_from_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewHistoryEntry projects a stored message for the read API.
func NewHistoryEntry(m *Message) HistoryEntry {
	return HistoryEntry{
		ID:          m.ID,
		Content:     m.Content,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		IsFromAdmin: m.IsFromAdmin(),
		CreatedAt:   m.CreatedAt,
	}
}

// InboundFrame is any JSON object a client sends. Only the fields relevant
// to its Type are populated.
type InboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ConnectedFrame confirms a completed handshake.
type ConnectedFrame struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConnectedFrame builds the confirmation for participantID.
func NewConnectedFrame(participantID int64) ConnectedFrame {
	return ConnectedFrame{
		Type:      FrameTypeConnected,
		UserID:    participantID,
		Timestamp: time.Now().UTC(),
	}
}

// PingFrame is the keepalive probe.
type PingFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPingFrame builds a keepalive probe stamped with the current time.
func NewPingFrame() PingFrame {
	return PingFrame{Type: FrameTypePing, Timestamp: time.Now().UTC()}
}

// NewMessageFrame notifies both ends of a conversation about a persisted
// message. UserID is the end-user the conversation belongs to.
type NewMessageFrame struct {
	Type        string    `json:"type"`
	MessageID   string    `json:"message_id,omitempty"`
	UserID      int64     `json:"user_id"`
	Content     string    `json:"content"`
	SenderID    int64     `json:"sender_id"`
	IsFromAdmin bool      `json:"is_from_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewNewMessageFrame builds the notification for a stored message, echoing
// the client correlation token when one was supplied.
func NewNewMessageFrame(m *Message, conversationUserID int64, correlationID string) NewMessageFrame {
	return NewMessageFrame{
		Type:        FrameTypeNewMessage,
		MessageID:   correlationID,
		UserID:      conversationUserID,
		Content:     m.Content,
		SenderID:    m.SenderID,
		IsFromAdmin: m.IsFromAdmin(),
		CreatedAt:   m.CreatedAt,
	}
}

// ErrorFrame tells the sender its message was not accepted.
type ErrorFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewErrorFrame builds an error frame for the given correlation token.
func NewErrorFrame(correlationID, code, message string) ErrorFrame {
	return ErrorFrame{
		Type:      FrameTypeError,
		MessageID: correlationID,
		Code:      code,
		Message:   message,
	}
}

// Route is the routing decision for one inbound chat frame.
type Route struct {
	SenderID int64
	// ReceiverID is both the durable receiver and the live recipient.
	ReceiverID int64
	// ConversationUserID is the end-user side of the conversation, carried
	// as user_id on new_message frames.
	ConversationUserID int64
}
