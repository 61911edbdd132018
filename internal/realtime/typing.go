package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avetrov/deskwire/internal/domain"
)

// DefaultTypingTTL is how long a typing state lives without renewal.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

// TypingTracker holds ephemeral per-(conversation, user) typing state with
// TTL expiry. Nothing is persisted; any read past expiresAt is treated as
// idle, which is the safety net against dropped stop-typing messages.
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]time.Time

	publisher Publisher
	ttl       time.Duration
	now       func() time.Time
}

// NewTypingTracker creates a tracker with the given TTL (DefaultTypingTTL
// if zero).
func NewTypingTracker(publisher Publisher, ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		entries:   make(map[typingKey]time.Time),
		publisher: publisher,
		ttl:       ttl,
		now:       time.Now,
	}
}

// NotifyTyping marks the user typing in a conversation. The typing event
// is emitted only when the previous state was idle or already lapsed, so
// repeated keystrokes renew the TTL without re-broadcasting.
func (t *TypingTracker) NotifyTyping(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	now := t.now()

	t.mu.Lock()
	expiresAt, active := t.entries[key]
	wasIdle := !active || now.After(expiresAt)
	t.entries[key] = now.Add(t.ttl)
	t.mu.Unlock()

	if wasIdle {
		t.publisher.PublishEvent(domain.ConversationTopic(conversationID), domain.EventTypingStart,
			domain.TypingEvent{ConversationID: conversationID, UserID: userID})
	}
}

// NotifyStopTyping forces the state to idle and emits stop-typing
// immediately. Stopping an already idle state is a no-op.
func (t *TypingTracker) NotifyStopTyping(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	now := t.now()

	t.mu.Lock()
	expiresAt, active := t.entries[key]
	delete(t.entries, key)
	t.mu.Unlock()

	if !active || now.After(expiresAt) {
		return
	}

	t.publisher.PublishEvent(domain.ConversationTopic(conversationID), domain.EventTypingStop,
		domain.TypingEvent{ConversationID: conversationID, UserID: userID})
}

// Active returns the users currently typing in a conversation. Entries
// past their TTL are treated as idle and dropped lazily.
func (t *TypingTracker) Active(conversationID string) []string {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var typing []string
	for key, expiresAt := range t.entries {
		if key.conversationID != conversationID {
			continue
		}
		if now.After(expiresAt) {
			delete(t.entries, key)
			continue
		}
		typing = append(typing, key.userID)
	}
	return typing
}

// StartSweeper runs a background goroutine that periodically drops lapsed
// entries so the map does not accumulate state from dropped stop events.
func (t *TypingTracker) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(t.ttl)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-ctx.Done():
				slog.Debug("Typing sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (t *TypingTracker) sweep() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, expiresAt := range t.entries {
		if now.After(expiresAt) {
			delete(t.entries, key)
		}
	}
}
