// Package notify implements the notification dispatcher: creation,
// delivery to all of a recipient's sessions, and read-state tracking.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/store"
)

// Publisher is the slice of the event transport the dispatcher needs.
type Publisher interface {
	PublishEvent(topic, eventType string, payload interface{})
}

// Service creates, delivers, and tracks read state of per-user
// notifications. Every mutation that can change the unread total funnels
// through one recomputation path, so read, mark-all, and delete can never
// produce divergent counters.
type Service struct {
	repo      store.Repository
	publisher Publisher
	now       func() time.Time
}

// NewService creates the notification dispatcher.
func NewService(repo store.Repository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

// Create persists a notification and fans it out to every active session
// of the recipient, followed by a recomputed unread total.
func (s *Service) Create(ctx context.Context, recipientID, notificationType string, payload json.RawMessage) (*domain.Notification, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("notification requires a recipient: %w", errdefs.ErrInvalidArgument)
	}
	if notificationType == "" {
		return nil, fmt.Errorf("notification requires a type: %w", errdefs.ErrInvalidArgument)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("notification payload must be valid JSON: %w", errdefs.ErrInvalidArgument)
	}

	n := &domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        notificationType,
		Payload:     payload,
		IsRead:      false,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.publisher.PublishEvent(domain.UserTopic(recipientID), domain.EventNotificationNew, n)
	s.broadcastUnread(ctx, recipientID)

	slog.Debug("Notification created", "notification_id", n.ID, "recipient_id", recipientID, "type", notificationType)
	return n, nil
}

// MarkRead flips one notification to read. Only the recipient may do so.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n == nil {
		return fmt.Errorf("notification %s: %w", notificationID, errdefs.ErrNotFound)
	}
	if n.RecipientID != userID {
		return fmt.Errorf("notification %s belongs to another user: %w", notificationID, errdefs.ErrPermissionDenied)
	}

	if _, err := s.repo.MarkNotificationRead(ctx, notificationID); err != nil {
		return err
	}
	s.broadcastUnread(ctx, userID)
	return nil
}

// MarkAllRead drives the recipient's unread total to zero. Idempotent:
// a second call changes nothing and re-announces zero.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if _, err := s.repo.MarkAllNotificationsRead(ctx, userID); err != nil {
		return err
	}
	s.broadcastUnread(ctx, userID)
	return nil
}

// Delete removes a notification. Only the recipient may delete; the
// unread total is recomputed through the same path reads use.
func (s *Service) Delete(ctx context.Context, userID, notificationID string) error {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n == nil {
		return fmt.Errorf("notification %s: %w", notificationID, errdefs.ErrNotFound)
	}
	if n.RecipientID != userID {
		return fmt.Errorf("notification %s belongs to another user: %w", notificationID, errdefs.ErrPermissionDenied)
	}

	if _, err := s.repo.DeleteNotification(ctx, notificationID); err != nil {
		return err
	}
	s.broadcastUnread(ctx, userID)
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	return s.repo.ListNotifications(ctx, userID, limit)
}

// UnreadCount recomputes the recipient's unread total for the
// reconciliation snapshot.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadNotificationCount(ctx, userID)
}

func (s *Service) broadcastUnread(ctx context.Context, userID string) {
	count, err := s.repo.UnreadNotificationCount(ctx, userID)
	if err != nil {
		slog.Warn("Failed to recompute notification unread count", "user_id", userID, "error", err)
		return
	}
	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventUnreadUpdate,
		domain.UnreadUpdate{Scope: domain.UnreadScopeNotification, Count: count})
}
