package domain

import (
	"time"
)

// Topic names for the event transport. Every connected session subscribes
// to the global presence topic, its own user topic, and the topic of each
// conversation it participates in.
const (
	PresenceTopic = "presence"
)

// UserTopic returns the per-user topic used for notifications, unread
// updates, timer state, and multi-tab fan-out.
func UserTopic(userID string) string {
	return "user:" + userID
}

// ConversationTopic returns the per-conversation topic used for messages
// and typing indicators.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Event types carried in the transport envelope.
const (
	EventSync               = "sync"
	EventPresenceUpdate     = "presence:update"
	EventMessageNew         = "message:new"
	EventMessageDeleted     = "message:deleted"
	EventConversationUpdate = "conversation:update"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventNotificationNew    = "notification:new"
	EventUnreadUpdate       = "unread:update"
	EventTimerStart         = "timer:start"
	EventTimerStop          = "timer:stop"
)

// Unread scopes for UnreadUpdate events.
const (
	UnreadScopeNotification = "notification"
	UnreadScopeConversation = "conversation"
)

// PresenceUpdate announces a user's online/offline transition on the
// global presence topic.
type PresenceUpdate struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// TypingEvent marks a user typing (or having stopped) in a conversation.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// UnreadUpdate carries a freshly recomputed unread count. Count is always
// authoritative, never a delta.
type UnreadUpdate struct {
	Scope string `json:"scope"`
	ID    string `json:"id,omitempty"`
	Count int    `json:"count"`
}

// TimerStarted announces a started timer to all of the user's sessions.
type TimerStarted struct {
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// TimerStopped announces a stopped timer and the recorded entry.
type TimerStopped struct {
	UserID   string        `json:"user_id"`
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
	EntryID  string        `json:"entry_id"`
}

// SyncState is the authoritative snapshot pushed on (re)connect and served
// at GET /api/sync. Clients discard buffered deltas in favor of it.
type SyncState struct {
	OnlineUserIDs      []string       `json:"online_user_ids"`
	NotificationUnread int            `json:"notification_unread"`
	ConversationUnread map[string]int `json:"conversation_unread"`
	ActiveTimer        *ActiveTimer   `json:"active_timer,omitempty"`
}
