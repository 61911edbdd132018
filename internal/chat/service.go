// Package chat implements the messaging core: conversation resolution,
// message append with server-assigned ordering, and derived unread state.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/shared"
	"github.com/avetrov/deskwire/internal/store"
)

// Publisher is the slice of the event transport the messaging core needs.
type Publisher interface {
	PublishEvent(topic, eventType string, payload interface{})
}

// Service is the messaging core. Unread counters are always recomputed
// from last_read_at against the authoritative message set, never
// maintained incrementally, so they cannot drift.
type Service struct {
	repo      store.Repository
	publisher Publisher
	now       func() time.Time

	// Per-conversation locks serialize append+publish so that delivery
	// order matches server-assigned created_at within a conversation.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates the messaging core.
func NewService(repo store.Repository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockConversation(conversationID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// SendInput describes an outgoing message. Exactly one of ConversationID
// (existing thread) or RecipientID (direct, resolved or created on first
// message) must be set.
type SendInput struct {
	ConversationID string `json:"conversation_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Body           string `json:"body,omitempty"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
}

// Send appends a message with a server-assigned timestamp and fans it out
// to the conversation topic, which covers the sender's other sessions and
// all sessions of the other participants. A conversation born from this
// very message has no conversation-topic subscribers yet, so its first
// message also goes to every participant's user topic. Each other
// participant receives a freshly recomputed unread count for the
// conversation-list badge.
func (s *Service) Send(ctx context.Context, senderID string, in SendInput) (*domain.Message, error) {
	if in.Body == "" && in.AttachmentRef == "" {
		return nil, fmt.Errorf("message requires a body or attachment: %w", errdefs.ErrInvalidArgument)
	}

	conv, created, err := s.resolveTarget(ctx, senderID, in)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           in.Body,
		AttachmentRef:  in.AttachmentRef,
	}

	// Append and publish under the conversation lock so subscribers see
	// messages in created_at order.
	unlock := s.lockConversation(conv.ID)
	msg.CreatedAt = s.now()
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		unlock()
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.publisher.PublishEvent(domain.ConversationTopic(conv.ID), domain.EventMessageNew, msg)
	if created {
		// No session is subscribed to the conversation topic yet; the
		// participants' user topics carry the first delivery.
		for _, id := range conv.ParticipantIDs {
			s.publisher.PublishEvent(domain.UserTopic(id), domain.EventMessageNew, msg)
		}
	}
	unlock()

	s.broadcastUnread(ctx, conv, senderID)

	slog.Debug("Message sent", "message_id", msg.ID, "conversation_id", conv.ID, "sender_id", senderID)
	return msg, nil
}

func (s *Service) resolveTarget(ctx context.Context, senderID string, in SendInput) (*domain.Conversation, bool, error) {
	switch {
	case in.ConversationID != "" && in.RecipientID != "":
		return nil, false, fmt.Errorf("conversation_id and recipient_id are mutually exclusive: %w", errdefs.ErrInvalidArgument)
	case in.ConversationID != "":
		conv, err := s.repo.GetConversation(ctx, in.ConversationID)
		if err != nil {
			return nil, false, fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			return nil, false, fmt.Errorf("conversation %s: %w", in.ConversationID, errdefs.ErrNotFound)
		}
		if !conv.HasParticipant(senderID) {
			return nil, false, fmt.Errorf("sender is not a participant of %s: %w", conv.ID, errdefs.ErrPermissionDenied)
		}
		return conv, false, nil
	case in.RecipientID != "":
		return s.resolveDirect(ctx, senderID, in.RecipientID)
	default:
		return nil, false, fmt.Errorf("conversation_id or recipient_id required: %w", errdefs.ErrInvalidArgument)
	}
}

// ResolveDirect returns the canonical direct conversation between two
// users, creating it if it does not exist yet.
func (s *Service) ResolveDirect(ctx context.Context, userID, otherID string) (*domain.Conversation, error) {
	conv, _, err := s.resolveDirect(ctx, userID, otherID)
	return conv, err
}

// resolveDirect additionally reports whether this call created the
// conversation. Creation is announced on both participants' user topics,
// mirroring group creation, so live sessions learn about the new
// conversation and can subscribe to its topic. A concurrent create racing
// on the same pair loses to the unique direct key and falls back to the
// winner's row.
func (s *Service) resolveDirect(ctx context.Context, userID, otherID string) (*domain.Conversation, bool, error) {
	if otherID == "" || otherID == userID {
		return nil, false, fmt.Errorf("direct conversation requires a distinct recipient: %w", errdefs.ErrInvalidArgument)
	}

	conv, err := s.repo.GetDirectConversation(ctx, userID, otherID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup direct conversation: %w", err)
	}
	if conv != nil {
		return conv, false, nil
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:             uuid.NewString(),
		Kind:           domain.KindDirect,
		ParticipantIDs: []string{userID, otherID},
		CreatedBy:      userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		if errdefs.IsConflict(err) {
			winner, lookupErr := s.repo.GetDirectConversation(ctx, userID, otherID)
			return winner, false, lookupErr
		}
		return nil, false, fmt.Errorf("create direct conversation: %w", err)
	}

	for _, id := range conv.ParticipantIDs {
		s.publisher.PublishEvent(domain.UserTopic(id), domain.EventConversationUpdate, conv)
	}
	return conv, true, nil
}

// CreateGroup creates a group conversation. The creator is always a
// member.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*domain.Conversation, error) {
	if name == "" {
		return nil, fmt.Errorf("group requires a name: %w", errdefs.ErrInvalidArgument)
	}

	members := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:             uuid.NewString(),
		Kind:           domain.KindGroup,
		Name:           name,
		ParticipantIDs: members,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	for _, id := range members {
		s.publisher.PublishEvent(domain.UserTopic(id), domain.EventConversationUpdate, conv)
	}
	return conv, nil
}

// AddMember adds a user to a group conversation. Direct membership is
// immutable.
func (s *Service) AddMember(ctx context.Context, actorID, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.mutableGroup(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.HasParticipant(userID) {
		return conv, nil
	}

	if err := s.repo.AddParticipant(ctx, conversationID, userID, s.now()); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	conv.ParticipantIDs = append(conv.ParticipantIDs, userID)

	s.publisher.PublishEvent(domain.ConversationTopic(conv.ID), domain.EventConversationUpdate, conv)
	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventConversationUpdate, conv)
	return conv, nil
}

// RemoveMember removes a user from a group conversation. A member may
// remove themselves; otherwise only the creator may remove members.
func (s *Service) RemoveMember(ctx context.Context, actorID, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.mutableGroup(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}
	if actorID != userID && actorID != conv.CreatedBy {
		return nil, fmt.Errorf("only the creator may remove other members: %w", errdefs.ErrPermissionDenied)
	}

	if err := s.repo.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	remaining := conv.ParticipantIDs[:0]
	for _, id := range conv.ParticipantIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	conv.ParticipantIDs = remaining

	s.publisher.PublishEvent(domain.ConversationTopic(conv.ID), domain.EventConversationUpdate, conv)
	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventConversationUpdate, conv)
	return conv, nil
}

func (s *Service) mutableGroup(ctx context.Context, actorID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errdefs.ErrNotFound)
	}
	if conv.Kind != domain.KindGroup {
		return nil, fmt.Errorf("direct conversation membership is immutable: %w", errdefs.ErrInvalidArgument)
	}
	if !conv.HasParticipant(actorID) {
		return nil, fmt.Errorf("actor is not a participant of %s: %w", conversationID, errdefs.ErrPermissionDenied)
	}
	return conv, nil
}

// MarkRead advances the reader's watermark to now, which by definition
// recomputes the conversation's unread count to zero, and announces the
// fresh count to the reader's own sessions only.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) error {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", conversationID, errdefs.ErrNotFound)
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("user is not a participant of %s: %w", conversationID, errdefs.ErrPermissionDenied)
	}

	if err := s.markReadWithRetry(ctx, userID, conversationID); err != nil {
		return err
	}

	count, err := s.repo.UnreadCount(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("recompute unread count: %w", err)
	}
	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventUnreadUpdate,
		domain.UnreadUpdate{Scope: domain.UnreadScopeConversation, ID: conversationID, Count: count})
	return nil
}

// markReadWithRetry advances the watermark with exponential backoff on
// SQLITE_BUSY, which can surface when several tabs mark the same
// conversation read at once.
func (s *Service) markReadWithRetry(ctx context.Context, userID, conversationID string) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.repo.MarkConversationRead(ctx, userID, conversationID, s.now())
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff
		slog.Debug("Database locked during mark read, retrying",
			"user_id", userID,
			"conversation_id", conversationID,
			"attempt", i+1,
			"delay", delay)
		time.Sleep(delay)
	}
	return err
}

// DeleteMessage soft-deletes a message. Only the sender may delete.
// Because a deleted message drops out of unread counts, the other
// participants get a recomputed count through the same path a send uses.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil || msg.Deleted() {
		return fmt.Errorf("message %s: %w", messageID, errdefs.ErrNotFound)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("only the sender may delete a message: %w", errdefs.ErrPermissionDenied)
	}

	ok, err := s.repo.SoftDeleteMessage(ctx, messageID, userID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, errdefs.ErrNotFound)
	}

	s.publisher.PublishEvent(domain.ConversationTopic(msg.ConversationID), domain.EventMessageDeleted,
		map[string]string{"message_id": messageID, "conversation_id": msg.ConversationID})

	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if err != nil || conv == nil {
		slog.Warn("Failed to load conversation for unread rebroadcast", "conversation_id", msg.ConversationID, "error", err)
		return nil
	}
	s.broadcastUnread(ctx, conv, userID)
	return nil
}

// broadcastUnread recomputes and announces the unread count of the
// conversation for every participant except skipUserID.
func (s *Service) broadcastUnread(ctx context.Context, conv *domain.Conversation, skipUserID string) {
	for _, participantID := range conv.ParticipantIDs {
		if participantID == skipUserID {
			continue
		}
		count, err := s.repo.UnreadCount(ctx, participantID, conv.ID)
		if err != nil {
			slog.Warn("Failed to recompute unread count", "user_id", participantID, "conversation_id", conv.ID, "error", err)
			continue
		}
		s.publisher.PublishEvent(domain.UserTopic(participantID), domain.EventUnreadUpdate,
			domain.UnreadUpdate{Scope: domain.UnreadScopeConversation, ID: conv.ID, Count: count})
	}
}

// History returns a page of a conversation's messages in delivery order.
func (s *Service) History(ctx context.Context, userID, conversationID string, limit int, beforeSeq int64) ([]*domain.Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errdefs.ErrNotFound)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("user is not a participant of %s: %w", conversationID, errdefs.ErrPermissionDenied)
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeSeq)
}

// ListConversations returns the user's conversation list with previews
// and unread counts.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	return s.repo.ListConversations(ctx, userID)
}

// UnreadCounts recomputes the user's per-conversation unread counts for
// the reconciliation snapshot.
func (s *Service) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	return s.repo.UnreadCounts(ctx, userID)
}

// ConversationIDs returns the ids of the user's conversations, used to
// subscribe a fresh connection to its topics.
func (s *Service) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListConversationIDs(ctx, userID)
}
