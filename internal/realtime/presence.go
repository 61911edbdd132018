package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/avetrov/deskwire/internal/domain"
)

// Presence tracks, per user, the set of live session ids and derives
// online/offline transitions. A user is online iff at least one session
// is registered. The registry holds no timers of its own: when a session
// dies without a clean leave, the transport's heartbeat watchdog tears
// the connection down and calls Leave on the registry's behalf.
type Presence struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}

	publisher Publisher
}

// NewPresence creates an empty presence registry publishing transitions
// to the global presence topic.
func NewPresence(publisher Publisher) *Presence {
	return &Presence{
		sessions:  make(map[string]map[string]struct{}),
		publisher: publisher,
	}
}

// Join registers a session for a user. A double join of the same session
// id is idempotent, so a reconnect with a stale id never double-counts.
// The 0 to 1 transition emits an online event. Transition events are
// published under the registry lock so they leave in the order the
// transitions happened.
func (p *Presence) Join(userID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions, exists := p.sessions[userID]
	if !exists {
		sessions = make(map[string]struct{})
		p.sessions[userID] = sessions
	}
	if _, dup := sessions[sessionID]; dup {
		return
	}
	sessions[sessionID] = struct{}{}
	wentOnline := !exists

	slog.Debug("Presence join", "user_id", userID, "session_id", sessionID, "online_transition", wentOnline)
	if wentOnline {
		p.publisher.PublishEvent(domain.PresenceTopic, domain.EventPresenceUpdate,
			domain.PresenceUpdate{UserID: userID, Online: true})
	}
}

// Leave removes a session for a user. Unknown sessions are ignored, so an
// out-of-order or repeated leave is harmless. The 1 to 0 transition emits
// an offline event.
func (p *Presence) Leave(userID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions, exists := p.sessions[userID]
	if !exists {
		return
	}
	if _, ok := sessions[sessionID]; !ok {
		return
	}
	delete(sessions, sessionID)
	wentOffline := len(sessions) == 0
	if wentOffline {
		delete(p.sessions, userID)
	}

	slog.Debug("Presence leave", "user_id", userID, "session_id", sessionID, "offline_transition", wentOffline)
	if wentOffline {
		p.publisher.PublishEvent(domain.PresenceTopic, domain.EventPresenceUpdate,
			domain.PresenceUpdate{UserID: userID, Online: false})
	}
}

// Online reports whether the user has at least one live session.
func (p *Presence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID]) > 0
}

// SessionCount returns the number of live sessions for a user.
func (p *Presence) SessionCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID])
}

// Snapshot returns the sorted set of currently online users, for the
// initial sync on connect.
func (p *Presence) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	online := make([]string, 0, len(p.sessions))
	for userID := range p.sessions {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}
