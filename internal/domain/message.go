package domain

import (
	"time"
)

// Message is an append-only chat message. CreatedAt is assigned by the
// server clock, never the client, so ordering is consistent across clients
// with clock skew. Seq is a store-assigned monotonic sequence that breaks
// same-millisecond ties within a conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body,omitempty"`
	AttachmentRef  string     `json:"attachment_ref,omitempty"`
	Seq            int64      `json:"seq"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the message has been soft-deleted by its sender.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}
