// Package event defines the named-event envelope and typed payloads of the
// chat wire protocol. The same envelope framing is used by every transport
// (WebSocket and long-poll) in both directions.
package event

import (
	"encoding/json"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
)

type Type string

// Client → server events.
const (
	TypePrivateMessage Type = "private_message"
	TypeTyping         Type = "typing"
	TypeMarkRead       Type = "mark_read"
)

// Server → client events. TypePrivateMessage is reused for incoming
// messages; TypeUsersOnline and TypeOnlineUsers both carry a full roster
// (the server historically emitted either name, clients handle both).
const (
	TypeMessageSent  Type = "message_sent"
	TypeUserTyping   Type = "user_typing"
	TypeMessagesRead Type = "messages_read"
	TypeUsersOnline  Type = "users_online"
	TypeOnlineUsers  Type = "online_users"
	TypeUserOffline  Type = "user_offline"
	TypeAck          Type = "ack"
	TypeError        Type = "error"
)

// Envelope frames a single event. AckID is set on events that request an
// acknowledgement; the matching ack carries the same id in its payload.
type Envelope struct {
	Type    Type            `json:"type"`
	AckID   string          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a marshalled payload. A nil payload leaves
// Payload empty.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// SendMessagePayload is the client's private_message request.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

// TypingPayload is the client's typing state change.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// MarkReadPayload is the client's fire-and-forget read receipt.
type MarkReadPayload struct {
	SenderID string `json:"senderId"`
}

// MessagePayload wraps a full message for private_message and message_sent
// deliveries.
type MessagePayload struct {
	Message model.Message `json:"message"`
}

// UserTypingPayload is a remote peer's typing state change.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesReadPayload notifies that ReadBy has read our messages to them.
type MessagesReadPayload struct {
	ReadBy string `json:"readBy"`
}

// UserOfflinePayload removes a single user from the roster.
type UserOfflinePayload struct {
	UserID string `json:"userId"`
}

// AckPayload answers an envelope that carried an AckID. Message is set on
// delivered private_message acks so the sender gets the server-assigned id
// and timestamp without waiting for an echo.
type AckPayload struct {
	AckID     string         `json:"ack_id"`
	Delivered bool           `json:"delivered"`
	MessageID string         `json:"message_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   *model.Message `json:"message,omitempty"`
}

// ErrorPayload is a server-side rejection of a malformed event.
type ErrorPayload struct {
	Error string `json:"error"`
}
