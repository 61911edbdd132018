package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/containerd/errdefs"

	"github.com/avetrov/deskwire/internal/chat"
	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/identity"
	"github.com/avetrov/deskwire/internal/notify"
	"github.com/avetrov/deskwire/internal/store"
	"github.com/avetrov/deskwire/internal/timetrack"
)

// DefaultHeartbeatTimeout closes a connection that has sent nothing (not
// even a ping) for this long, so a crashed or partitioned session still
// drives a presence leave.
const DefaultHeartbeatTimeout = 45 * time.Second

// WebSocketHandler upgrades connections to the event transport and
// dispatches typed client commands to the domain services.
type WebSocketHandler struct {
	repo     store.Repository
	hub      *Hub
	presence *Presence
	typing   *TypingTracker
	chat     *chat.Service
	notify   *notify.Service
	timers   *timetrack.Service

	allowedOrigin    string
	isDev            bool
	heartbeatTimeout time.Duration
	sendBuffer       int
}

// NewWebSocketHandler creates the transport handler.
func NewWebSocketHandler(
	repo store.Repository,
	hub *Hub,
	presence *Presence,
	typing *TypingTracker,
	chatSvc *chat.Service,
	notifySvc *notify.Service,
	timerSvc *timetrack.Service,
	allowedOrigin string,
	isDev bool,
) *WebSocketHandler {
	return &WebSocketHandler{
		repo:             repo,
		hub:              hub,
		presence:         presence,
		typing:           typing,
		chat:             chatSvc,
		notify:           notifySvc,
		timers:           timerSvc,
		allowedOrigin:    allowedOrigin,
		isDev:            isDev,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		sendBuffer:       64,
	}
}

// SetHeartbeatTimeout overrides the idle-connection timeout.
func (h *WebSocketHandler) SetHeartbeatTimeout(d time.Duration) {
	if d > 0 {
		h.heartbeatTimeout = d
	}
}

// SetSendBuffer overrides the per-session outbound queue depth.
func (h *WebSocketHandler) SetSendBuffer(n int) {
	if n > 0 {
		h.sendBuffer = n
	}
}

// command is the envelope clients send.
type command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type timerStartPayload struct {
	TaskID string `json:"task_id"`
}

type timerStopPayload struct {
	Description string `json:"description,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := NewClient(ws, userID, sessionID, h.sendBuffer)
	defer client.Close()

	// Presence joins before the snapshot so the session sees itself
	// online; the deferred leave covers clean and unclean disconnects
	// alike (the heartbeat watchdog cancels ctx, which unwinds here).
	h.presence.Join(userID, sessionID)
	defer h.presence.Leave(userID, sessionID)
	defer h.hub.DropClient(client)

	if err := h.subscribeInitialTopics(ctx, client); err != nil {
		slog.Error("Failed to subscribe connection topics", "error", err, "user_id", userID)
		return
	}

	if err := h.pushSync(ctx, client); err != nil {
		slog.Error("Failed to push sync snapshot", "error", err, "user_id", userID)
		return
	}

	go client.WriteLoop(ctx)
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, ws, client)
	slog.Info("WebSocket session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// subscribeInitialTopics re-joins the presence topic, the session's own
// user topic, and every conversation the user participates in. This is
// the server half of the reconciliation contract: a reconnect starts from
// a full subscription set plus the sync snapshot, never from buffered
// deltas.
func (h *WebSocketHandler) subscribeInitialTopics(ctx context.Context, client *Client) error {
	h.hub.Subscribe(client, domain.PresenceTopic)
	h.hub.Subscribe(client, domain.UserTopic(client.UserID))

	conversationIDs, err := h.chat.ConversationIDs(ctx, client.UserID)
	if err != nil {
		return err
	}
	for _, id := range conversationIDs {
		h.hub.Subscribe(client, domain.ConversationTopic(id))
	}
	return nil
}

// pushSync sends the authoritative state snapshot for this session.
func (h *WebSocketHandler) pushSync(ctx context.Context, client *Client) error {
	conversationUnread, err := h.chat.UnreadCounts(ctx, client.UserID)
	if err != nil {
		return err
	}
	notificationUnread, err := h.notify.UnreadCount(ctx, client.UserID)
	if err != nil {
		return err
	}
	activeTimer, err := h.timers.Active(ctx, client.UserID)
	if err != nil {
		return err
	}

	state := domain.SyncState{
		OnlineUserIDs:      h.presence.Snapshot(),
		NotificationUnread: notificationUnread,
		ConversationUnread: conversationUnread,
		ActiveTimer:        activeTimer,
	}
	h.reply(client, domain.EventSync, state)
	return nil
}

//nolint:gocognit // Command dispatch coordinates transport, presence, and domain services.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, client *Client) {
	watchdog := time.AfterFunc(h.heartbeatTimeout, func() {
		slog.Info("Heartbeat timeout, closing connection", "user_id", client.UserID, "session_id", client.SessionID)
		client.Close()
	})
	defer watchdog.Stop()

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", client.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", client.UserID)
			}
			return
		}
		watchdog.Reset(h.heartbeatTimeout)

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			h.replyError(client, errdefs.ErrInvalidArgument)
			continue
		}

		h.dispatch(ctx, client, cmd)
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, client *Client, cmd command) {
	switch cmd.Type {
	case "ping":
		h.reply(client, "pong", nil)
		h.touchLastSeen(client.UserID)

	case "subscribe":
		var p topicPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil || p.Topic == "" {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		if err := h.authorizeTopic(ctx, client.UserID, p.Topic); err != nil {
			h.replyError(client, err)
			return
		}
		h.hub.Subscribe(client, p.Topic)

	case "unsubscribe":
		var p topicPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil || p.Topic == "" {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		h.hub.Unsubscribe(client, p.Topic)

	case "message:send":
		var in chat.SendInput
		if err := json.Unmarshal(cmd.Data, &in); err != nil {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		msg, err := h.chat.Send(ctx, client.UserID, in)
		if err != nil {
			h.replyError(client, err)
			return
		}
		// The sender's sessions may not be subscribed yet when this is
		// the first message of a fresh direct conversation.
		h.hub.Subscribe(client, domain.ConversationTopic(msg.ConversationID))

	case "typing:start":
		var p typingPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil || p.ConversationID == "" {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		if err := h.authorizeTopic(ctx, client.UserID, domain.ConversationTopic(p.ConversationID)); err != nil {
			h.replyError(client, err)
			return
		}
		h.typing.NotifyTyping(p.ConversationID, client.UserID)

	case "typing:stop":
		var p typingPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil || p.ConversationID == "" {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		h.typing.NotifyStopTyping(p.ConversationID, client.UserID)

	case "timer:start":
		var p timerStartPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			h.replyError(client, errdefs.ErrInvalidArgument)
			return
		}
		if _, err := h.timers.Start(ctx, client.UserID, p.TaskID); err != nil {
			h.replyError(client, err)
		}

	case "timer:stop":
		var p timerStopPayload
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &p); err != nil {
				h.replyError(client, errdefs.ErrInvalidArgument)
				return
			}
		}
		if _, err := h.timers.Stop(ctx, client.UserID, p.Description); err != nil {
			h.replyError(client, err)
		}

	default:
		slog.Debug("Unknown command", "type", cmd.Type, "user_id", client.UserID)
		h.replyError(client, errdefs.ErrInvalidArgument)
	}
}

// authorizeTopic checks that the user may attach to a topic: the global
// presence topic, their own user topic, or a conversation they belong to.
func (h *WebSocketHandler) authorizeTopic(ctx context.Context, userID, topic string) error {
	if topic == domain.PresenceTopic || topic == domain.UserTopic(userID) {
		return nil
	}

	const prefix = "conversation:"
	if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
		conversationID := topic[len(prefix):]
		conv, err := h.repo.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return errdefs.ErrNotFound
		}
		if !conv.HasParticipant(userID) {
			return errdefs.ErrPermissionDenied
		}
		return nil
	}

	return errdefs.ErrPermissionDenied
}

func (h *WebSocketHandler) reply(client *Client, eventType string, payload interface{}) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		slog.Error("Failed to encode reply", "type", eventType, "error", err)
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal reply envelope", "type", eventType, "error", err)
		return
	}
	if !client.enqueue(raw) {
		client.Close()
	}
}

func (h *WebSocketHandler) replyError(client *Client, err error) {
	h.reply(client, "error", errorPayload{Code: ErrorCode(err), Message: err.Error()})
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errdefs.IsConflict(err):
		return "conflict"
	case errdefs.IsNotFound(err):
		return "not_found"
	case errdefs.IsPermissionDenied(err):
		return "permission_denied"
	case errdefs.IsInvalidArgument(err):
		return "invalid_argument"
	default:
		return "internal"
	}
}

// touchLastSeen updates the user's last seen timestamp asynchronously.
func (h *WebSocketHandler) touchLastSeen(userID string) {
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
		}
	}()
}
