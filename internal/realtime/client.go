package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Client is one live transport connection: a single browser tab or device
// belonging to a user. Many clients may share one user id.
type Client struct {
	UserID    string
	SessionID string

	conn *websocket.Conn
	send chan []byte

	// topics is owned by the hub and guarded by the hub's mutex.
	topics map[string]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps a websocket connection. sendBuffer bounds the per-client
// outbound queue; a full queue gets the client evicted by the hub.
func NewClient(conn *websocket.Conn, userID, sessionID string, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Client{
		UserID:    userID,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		topics:    make(map[string]struct{}),
		closed:    make(chan struct{}),
	}
}

// enqueue places raw bytes on the outbound queue without blocking.
// Returns false if the queue is full or the client is closed.
func (c *Client) enqueue(raw []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Close marks the client closed. Idempotent and safe from any goroutine;
// the write loop and read loop observe it and return.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Done returns a channel closed when the client is shut down.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// WriteLoop drains the outbound queue onto the websocket until the client
// closes or a write fails.
func (c *Client) WriteLoop(ctx context.Context) {
	for {
		select {
		case raw := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "user_id", c.UserID)
				}
				c.Close()
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			c.Close()
			return
		}
	}
}
