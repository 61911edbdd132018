// Package realtime implements the event transport: per-connection
// bidirectional pub/sub over WebSocket with named topics, plus the
// presence registry and typing tracker that are driven directly by
// transport-level events.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is the wire envelope sent to clients.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope with a marshaled payload.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

// Publisher is the write side of the transport, as seen by the domain
// services. The hub implements it.
type Publisher interface {
	// PublishEvent fans an event out to every subscriber of the topic.
	// Delivery is at-least-once to currently connected subscribers;
	// nothing is persisted for sessions that are not connected.
	PublishEvent(topic, eventType string, payload interface{})
}

const bridgePublishTimeout = 5 * time.Second

// Hub owns the subscription table: topic to set of connected clients.
// With a bridge attached, published events are mirrored to the bus so
// other server instances fan out to their local subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}

	instanceID string
	bridge     Bridge
}

// NewHub creates an empty hub.
func NewHub(instanceID string) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		instanceID: instanceID,
	}
}

// AttachBridge connects the hub to a cross-instance event bus.
// Must be called before any Publish.
func (h *Hub) AttachBridge(b Bridge) {
	h.bridge = b
}

// RunBridge consumes bus frames until ctx is cancelled, delivering events
// published by other instances to local subscribers. Frames originating
// from this instance are skipped; they were already delivered locally.
func (h *Hub) RunBridge(ctx context.Context) error {
	if h.bridge == nil {
		return nil
	}
	return h.bridge.Run(ctx, func(frame BusFrame) {
		if frame.Origin == h.instanceID {
			return
		}
		h.publishLocal(frame.Topic, frame.Event)
	})
}

// Subscribe adds the client to a topic.
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.topics[topic]; !exists {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes the client from a topic.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, topic)
}

// DropClient removes the client from every topic. Called once from the
// connection's teardown path.
func (h *Hub) DropClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
}

func (h *Hub) removeLocked(c *Client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// SubscriberCount returns the number of local subscribers of a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Subscribed reports whether the client is subscribed to the topic.
func (h *Hub) Subscribed(c *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// PublishEvent marshals the payload and publishes it to the topic.
func (h *Hub) PublishEvent(topic, eventType string, payload interface{}) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		slog.Error("Failed to encode event", "type", eventType, "topic", topic, "error", err)
		return
	}
	h.Publish(topic, event)
}

// Publish fans the event out to local subscribers and, if a bridge is
// attached, mirrors it to the bus for other instances.
func (h *Hub) Publish(topic string, event Event) {
	h.publishLocal(topic, event)

	if h.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bridgePublishTimeout)
		defer cancel()
		frame := BusFrame{Origin: h.instanceID, Topic: topic, Event: event}
		if err := h.bridge.Publish(ctx, frame); err != nil {
			slog.Warn("Failed to publish event to bridge", "topic", topic, "type", event.Type, "error", err)
		}
	}
}

func (h *Hub) publishLocal(topic string, event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event envelope", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		if !c.enqueue(raw) {
			// A subscriber that cannot keep up is disconnected rather
			// than allowed to block the hub; it reconciles on reconnect.
			slog.Warn("Dropping slow client", "user_id", c.UserID, "session_id", c.SessionID, "topic", topic)
			c.Close()
		}
	}
}
