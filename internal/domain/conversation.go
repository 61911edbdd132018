package domain

import (
	"sort"
	"strings"
	"time"
)

// ConversationKind distinguishes two-party direct threads from groups.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a direct or group messaging context.
// Direct conversations are identified canonically by the unordered pair of
// participant ids, so at most one direct conversation exists per pair.
// Direct membership is immutable; group membership may change.
type Conversation struct {
	ID             string           `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Name           string           `json:"name,omitempty"`
	ParticipantIDs []string         `json:"participant_ids"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectKey returns the canonical lookup key for a direct conversation
// between two users. The key is order-independent.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// ConversationSummary is a conversation plus the derived per-user state the
// conversation list needs: last message preview and unread count.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
