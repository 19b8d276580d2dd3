package protocol

import (
	"encoding/json"

	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
)

// MessageType identifies the type of WebSocket event.
type MessageType string

const (
	// Client -> Server
	TypeRegisterUser  MessageType = "registerUser"
	TypeSendMessage   MessageType = "sendMessage"
	TypeMarkRead      MessageType = "markRead"
	TypeDeleteMessage MessageType = "deleteMessage"
	TypeGetHistory    MessageType = "getHistory"

	// Server -> Client
	TypeOnlineUsers      MessageType = "onlineUsers"
	TypeMessageDelivered MessageType = "messageDelivered"
	TypeSendFailed       MessageType = "sendFailed"
	TypeMessagesRead     MessageType = "messagesRead"
	TypeMessageDeleted   MessageType = "messageDeleted"
	TypeHistory          MessageType = "history"
	TypeError            MessageType = "error"
)

// Envelope wraps all WebSocket events with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Metadata carries client-side correlation state through the server. The
// server echoes it back untouched; only the original sender can interpret it.
type Metadata struct {
	TempID string `json:"tempId,omitempty"`
}

// RegisterUserMessage announces which user this connection belongs to.
// Re-registration over the same connection is idempotent.
type RegisterUserMessage struct {
	UserID string `json:"userId"`
}

// OnlineUsersMessage is a full snapshot of everyone currently online, not a
// diff.
type OnlineUsersMessage struct {
	UserIDs []string `json:"userIds"`
}

// SendMessageMessage is sent by the client to deliver a private message.
// Audio rides along as a base64 string; no other binary encoding is accepted
// at the protocol boundary.
type SendMessageMessage struct {
	ToUserID    string   `json:"toUserId"`
	FromUserID  string   `json:"fromUserId"`
	Message     string   `json:"message"`
	AudioBase64 string   `json:"audioBase64,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// MessageDeliveredMessage is the enriched payload emitted after persistence.
// The same event is pushed to the recipient and echoed to the sender; the
// metadata tempId is only meaningful to the sender.
type MessageDeliveredMessage struct {
	models.Message
	Metadata Metadata `json:"metadata"`
}

// SendFailedMessage reports a rejected or informationally degraded send to
// the originating connection only.
type SendFailedMessage struct {
	Error    string   `json:"error"`
	Metadata Metadata `json:"metadata"`
}

// Failure reasons carried by SendFailedMessage. ReasonOffline is
// informational: the message was persisted, the recipient just has no live
// connection.
const (
	ReasonRateLimited      = "rate limited"
	ReasonInvalidRecipient = "invalid recipient"
	ReasonBlocked          = "blocked"
	ReasonPersistFailed    = "persist failed"
	ReasonOffline          = "offline"
)

// MarkReadMessage asks the server to mark every unread message from senderId
// to this connection's user as read, in one batch.
type MarkReadMessage struct {
	SenderID string `json:"senderId"`
}

// MessagesReadMessage notifies the original sender that byUserId has read
// their messages. The receiver flips its own locally held copies.
type MessagesReadMessage struct {
	ByUserID string `json:"byUserId"`
}

// DeleteMessageMessage asks the server to delete a message this user
// authored.
type DeleteMessageMessage struct {
	MessageID string `json:"messageId"`
	ToUserID  string `json:"toUserId"`
}

// MessageDeletedMessage tells the other party to drop a message from its
// view.
type MessageDeletedMessage struct {
	MessageID string `json:"messageId"`
}

// GetHistoryMessage requests the conversation with another user, newest
// first, optionally paginated with a message id cursor.
type GetHistoryMessage struct {
	WithUserID string `json:"withUserId"`
	BeforeID   string `json:"beforeId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// HistoryMessage is the server's reply to GetHistoryMessage, in
// chronological order.
type HistoryMessage struct {
	WithUserID string           `json:"withUserId"`
	Messages   []models.Message `json:"messages"`
	HasMore    bool             `json:"hasMore"`
}

// ErrorMessage is sent by the server when a request cannot be processed.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidMsg   = "invalid_message"
	ErrCodeInternal     = "internal_error"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Data: raw,
	}, nil
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
