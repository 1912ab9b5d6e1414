package model

import "time"

// Message is one direct message between two users. The ID and CreatedAt are
// assigned by the server; a message without an ID has not been confirmed yet.
// Wire field names follow the chat API contract (camelCase).
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Content    string     `json:"content"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// PeerFor returns the other party of the message relative to selfID.
func (m *Message) PeerFor(selfID string) string {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}
