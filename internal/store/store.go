// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/avetrov/deskwire/internal/domain"
)

// Repository defines the interface for persisting sync-core state:
// users, conversations, messages, read state, notifications, and timers.
//
// Lookup methods return (nil, nil) when the record does not exist; callers
// that need a hard failure wrap the nil into an errdefs.ErrNotFound.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetConversation retrieves a conversation with its participants.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// GetDirectConversation retrieves the canonical direct conversation
	// between two users, in either order.
	GetDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error)

	// CreateConversation persists a conversation and its participant set.
	// Creating a second direct conversation for the same pair fails with
	// a conflict error.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// AddParticipant adds a member to a group conversation. Adding an
	// existing member is idempotent.
	AddParticipant(ctx context.Context, conversationID, userID string, joinedAt time.Time) error

	// RemoveParticipant removes a member from a group conversation.
	RemoveParticipant(ctx context.Context, conversationID, userID string) error

	// ListConversationIDs returns the ids of every conversation the user
	// participates in. Used to subscribe a fresh connection to its topics.
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)

	// ListConversations returns the user's conversations with last-message
	// preview and unread count, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error)

	// AppendMessage persists a message and assigns its sequence number.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// GetMessage retrieves a message by id.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// ListMessages returns up to limit non-deleted messages of a
	// conversation in ascending (created_at, seq) order. A beforeSeq > 0
	// restricts the page to messages with seq < beforeSeq.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeSeq int64) ([]*domain.Message, error)

	// SoftDeleteMessage marks a message deleted if senderID is its sender.
	// Returns false if no matching message exists.
	SoftDeleteMessage(ctx context.Context, messageID, senderID string, deletedAt time.Time) (bool, error)

	// MarkConversationRead advances last_read_at for (user, conversation).
	MarkConversationRead(ctx context.Context, userID, conversationID string, readAt time.Time) error

	// UnreadCount recomputes the unread message count for one conversation
	// from last_read_at; it is never maintained incrementally.
	UnreadCount(ctx context.Context, userID, conversationID string) (int, error)

	// UnreadCounts recomputes unread counts for every conversation the
	// user participates in, keyed by conversation id.
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)

	// CreateNotification persists a notification.
	CreateNotification(ctx context.Context, n *domain.Notification) error

	// GetNotification retrieves a notification by id.
	GetNotification(ctx context.Context, notificationID string) (*domain.Notification, error)

	// ListNotifications returns up to limit notifications for a recipient,
	// newest first.
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error)

	// MarkNotificationRead flips is_read for one notification.
	// Returns false if the notification does not exist.
	MarkNotificationRead(ctx context.Context, notificationID string) (bool, error)

	// MarkAllNotificationsRead flips is_read for every unread notification
	// of the recipient and returns how many rows changed.
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)

	// DeleteNotification removes a notification.
	// Returns false if the notification does not exist.
	DeleteNotification(ctx context.Context, notificationID string) (bool, error)

	// UnreadNotificationCount recomputes the recipient's unread total.
	UnreadNotificationCount(ctx context.Context, recipientID string) (int, error)

	// InsertActiveTimer creates the single active timer row for a user.
	// Fails with a conflict error if the user already has one.
	InsertActiveTimer(ctx context.Context, timer *domain.ActiveTimer) error

	// GetActiveTimer retrieves the user's active timer, if any.
	GetActiveTimer(ctx context.Context, userID string) (*domain.ActiveTimer, error)

	// DeleteActiveTimer clears the user's active timer.
	// Returns false if no timer was running.
	DeleteActiveTimer(ctx context.Context, userID string) (bool, error)

	// CompleteActiveTimer persists the finished entry and clears the
	// user's active timer in one transaction. Fails with a not-found
	// error, recording nothing, if no timer row exists.
	CompleteActiveTimer(ctx context.Context, userID string, entry *domain.TimeEntry) error

	// InsertTimeEntry persists a completed or manual time entry.
	InsertTimeEntry(ctx context.Context, entry *domain.TimeEntry) error

	// ListTimeEntries returns up to limit time entries for a user,
	// newest first.
	ListTimeEntries(ctx context.Context, userID string, limit int) ([]*domain.TimeEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
