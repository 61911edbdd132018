package api

import (
	"net/http"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/identity"
)

// GetSync returns the authoritative state snapshot for the requesting
// user: who is online, unread totals, per-conversation unread counts, and
// the running timer if any. Clients apply it wholesale after a reconnect
// instead of replaying missed deltas.
func (h *Handler) GetSync(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	conversationUnread, err := h.chat.UnreadCounts(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	notificationUnread, err := h.notify.UnreadCount(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	activeTimer, err := h.timers.Active(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, domain.SyncState{
		OnlineUserIDs:      h.presence.Snapshot(),
		NotificationUnread: notificationUnread,
		ConversationUnread: conversationUnread,
		ActiveTimer:        activeTimer,
	})
}
