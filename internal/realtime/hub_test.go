package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func drainOne(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		return event
	default:
		t.Fatal("Expected a queued event, got none")
		return Event{}
	}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	hub := NewHub("node-1")
	alice := NewClient(nil, "alice", "tab-1", 8)
	bob := NewClient(nil, "bob", "tab-1", 8)

	hub.Subscribe(alice, "conversation:c1")
	hub.Subscribe(bob, "conversation:c1")

	hub.PublishEvent("conversation:c1", "message:new", map[string]string{"body": "hi"})

	for _, c := range []*Client{alice, bob} {
		event := drainOne(t, c)
		if event.Type != "message:new" {
			t.Errorf("Expected message:new, got %q", event.Type)
		}
	}
}

func TestHub_PublishSkipsOtherTopics(t *testing.T) {
	hub := NewHub("node-1")
	alice := NewClient(nil, "alice", "tab-1", 8)

	hub.Subscribe(alice, "conversation:c1")
	hub.PublishEvent("conversation:c2", "message:new", nil)

	select {
	case <-alice.send:
		t.Error("Expected no delivery for an unsubscribed topic")
	default:
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub("node-1")
	alice := NewClient(nil, "alice", "tab-1", 8)

	hub.Subscribe(alice, "conversation:c1")
	hub.Unsubscribe(alice, "conversation:c1")
	hub.PublishEvent("conversation:c1", "message:new", nil)

	select {
	case <-alice.send:
		t.Error("Expected no delivery after unsubscribe")
	default:
	}
	if hub.SubscriberCount("conversation:c1") != 0 {
		t.Error("Expected empty topic to be dropped")
	}
}

func TestHub_DropClientRemovesAllTopics(t *testing.T) {
	hub := NewHub("node-1")
	alice := NewClient(nil, "alice", "tab-1", 8)

	hub.Subscribe(alice, "presence")
	hub.Subscribe(alice, "user:alice")
	hub.Subscribe(alice, "conversation:c1")

	hub.DropClient(alice)

	for _, topic := range []string{"presence", "user:alice", "conversation:c1"} {
		if hub.Subscribed(alice, topic) {
			t.Errorf("Expected client dropped from %q", topic)
		}
		if hub.SubscriberCount(topic) != 0 {
			t.Errorf("Expected no subscribers left on %q", topic)
		}
	}
}

func TestHub_SlowClientEvicted(t *testing.T) {
	hub := NewHub("node-1")
	slow := NewClient(nil, "alice", "tab-1", 1)

	hub.Subscribe(slow, "conversation:c1")

	hub.PublishEvent("conversation:c1", "message:new", nil)
	hub.PublishEvent("conversation:c1", "message:new", nil)

	select {
	case <-slow.Done():
	default:
		t.Error("Expected slow client to be closed")
	}
}

// fakeBridge is an in-memory Bridge for cross-instance tests.
type fakeBridge struct {
	mu     sync.Mutex
	frames []BusFrame
	in     chan BusFrame
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{in: make(chan BusFrame, 8)}
}

func (b *fakeBridge) Publish(ctx context.Context, frame BusFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
	return nil
}

func (b *fakeBridge) Run(ctx context.Context, deliver func(BusFrame)) error {
	for {
		select {
		case frame := <-b.in:
			deliver(frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *fakeBridge) Close() error { return nil }

func TestHub_PublishMirrorsToBridge(t *testing.T) {
	hub := NewHub("node-1")
	bridge := newFakeBridge()
	hub.AttachBridge(bridge)

	hub.PublishEvent("conversation:c1", "message:new", map[string]string{"body": "hi"})

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.frames) != 1 {
		t.Fatalf("Expected 1 bridged frame, got %d", len(bridge.frames))
	}
	frame := bridge.frames[0]
	if frame.Origin != "node-1" || frame.Topic != "conversation:c1" || frame.Event.Type != "message:new" {
		t.Errorf("Unexpected frame %+v", frame)
	}
}

func TestHub_BridgeDeliversForeignFrames(t *testing.T) {
	hub := NewHub("node-1")
	bridge := newFakeBridge()
	hub.AttachBridge(bridge)

	alice := NewClient(nil, "alice", "tab-1", 8)
	hub.Subscribe(alice, "conversation:c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = hub.RunBridge(ctx)
	}()

	event, _ := NewEvent("message:new", map[string]string{"body": "remote"})
	bridge.in <- BusFrame{Origin: "node-2", Topic: "conversation:c1", Event: event}
	// A frame this instance already delivered locally must be skipped.
	bridge.in <- BusFrame{Origin: "node-1", Topic: "conversation:c1", Event: event}

	deadline := time.After(2 * time.Second)
	select {
	case raw := <-alice.send:
		var got Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		if got.Type != "message:new" {
			t.Errorf("Expected message:new, got %q", got.Type)
		}
	case <-deadline:
		t.Fatal("Timed out waiting for bridged event")
	}

	// Give the skipped frame a moment to (not) arrive.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-alice.send:
		t.Error("Expected own-origin frame to be skipped")
	default:
	}
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub("node-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := NewClient(nil, "user", "tab", 64)
			hub.Subscribe(c, "presence")
			hub.PublishEvent("presence", "presence:update", nil)
			hub.DropClient(c)
		}(i)
	}
	wg.Wait()

	if hub.SubscriberCount("presence") != 0 {
		t.Error("Expected all clients dropped")
	}
}
