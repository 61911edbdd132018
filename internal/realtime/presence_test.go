package realtime

import (
	"reflect"
	"strconv"
	"sync"
	"testing"

	"github.com/avetrov/deskwire/internal/domain"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	types  []string
	events []interface{}
}

func (r *recordingPublisher) PublishEvent(topic, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.types = append(r.types, eventType)
	r.events = append(r.events, payload)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingPublisher) last() (string, string, interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return "", "", nil
	}
	i := len(r.events) - 1
	return r.topics[i], r.types[i], r.events[i]
}

func TestPresence_FirstJoinEmitsOnline(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Join("alice", "tab-1")

	if !p.Online("alice") {
		t.Error("Expected alice to be online")
	}
	topic, eventType, payload := pub.last()
	if topic != domain.PresenceTopic {
		t.Errorf("Expected presence topic, got %q", topic)
	}
	if eventType != domain.EventPresenceUpdate {
		t.Errorf("Expected presence update event, got %q", eventType)
	}
	update, ok := payload.(domain.PresenceUpdate)
	if !ok || update.UserID != "alice" || !update.Online {
		t.Errorf("Expected online update for alice, got %+v", payload)
	}
}

func TestPresence_SecondSessionDoesNotReEmit(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Join("alice", "tab-1")
	p.Join("alice", "tab-2")

	if got := p.SessionCount("alice"); got != 2 {
		t.Errorf("Expected 2 sessions, got %d", got)
	}
	if got := pub.count(); got != 1 {
		t.Errorf("Expected 1 presence event, got %d", got)
	}
}

func TestPresence_DuplicateJoinIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Join("alice", "tab-1")
	p.Join("alice", "tab-1")

	if got := p.SessionCount("alice"); got != 1 {
		t.Errorf("Expected 1 session after duplicate join, got %d", got)
	}
	if got := pub.count(); got != 1 {
		t.Errorf("Expected 1 presence event, got %d", got)
	}
}

func TestPresence_LastLeaveEmitsOffline(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Join("alice", "tab-1")
	p.Join("alice", "tab-2")
	p.Leave("alice", "tab-1")

	if !p.Online("alice") {
		t.Error("Expected alice to remain online with one session left")
	}
	if got := pub.count(); got != 1 {
		t.Errorf("Expected no offline event yet, got %d events", got)
	}

	p.Leave("alice", "tab-2")

	if p.Online("alice") {
		t.Error("Expected alice to be offline")
	}
	_, _, payload := pub.last()
	update, ok := payload.(domain.PresenceUpdate)
	if !ok || update.UserID != "alice" || update.Online {
		t.Errorf("Expected offline update for alice, got %+v", payload)
	}
}

func TestPresence_UnknownLeaveIgnored(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Leave("ghost", "tab-1")

	p.Join("alice", "tab-1")
	p.Leave("alice", "tab-2")

	if !p.Online("alice") {
		t.Error("Expected alice to stay online after a stale leave")
	}
	if got := pub.count(); got != 1 {
		t.Errorf("Expected 1 event, got %d", got)
	}
}

func TestPresence_SnapshotSorted(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPresence(pub)

	p.Join("carol", "tab-1")
	p.Join("alice", "tab-1")
	p.Join("bob", "tab-1")

	got := p.Snapshot()
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected snapshot %v, got %v", want, got)
	}
}

func TestPresence_TransitionEventsOrdered(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	p := NewPresence(pub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sessionID := "tab-" + strconv.Itoa(n)
			p.Join("alice", sessionID)
			p.Leave("alice", sessionID)
		}(i)
	}
	wg.Wait()

	// However the joins and leaves interleave, the emitted transitions
	// must alternate online, offline, online, ...
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) == 0 || len(pub.events)%2 != 0 {
		t.Fatalf("Expected paired online/offline events, got %d", len(pub.events))
	}
	for i, e := range pub.events {
		update, ok := e.(domain.PresenceUpdate)
		if !ok {
			t.Fatalf("Unexpected payload at %d: %+v", i, e)
		}
		if wantOnline := i%2 == 0; update.Online != wantOnline {
			t.Fatalf("Transition %d out of order: online=%v", i, update.Online)
		}
	}
}

func TestPresence_ConcurrentJoinLeave(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	p := NewPresence(pub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sessionID := "tab-" + string(rune('a'+n%26))
			p.Join("alice", sessionID)
			p.Leave("alice", sessionID)
		}(i)
	}
	wg.Wait()

	if p.Online("alice") {
		t.Error("Expected alice offline after all sessions left")
	}
}
