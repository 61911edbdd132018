package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avetrov/deskwire/internal/chat"
	"github.com/avetrov/deskwire/internal/identity"
)

const defaultHistoryLimit = 50

// ListConversations returns the user's conversation list with previews
// and unread counts, most recently active first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	summaries, err := h.chat.ListConversations(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, summaries)
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// CreateGroup creates a group conversation with the caller as creator.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req createGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.chat.CreateGroup(r.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, conv)
}

type directRequest struct {
	UserID string `json:"user_id"`
}

// ResolveDirect returns the canonical direct conversation with another
// user, creating it if this is the first contact.
func (h *Handler) ResolveDirect(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req directRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.chat.ResolveDirect(r.Context(), userID, req.UserID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// GetMessages returns a page of conversation history in delivery order.
// Pagination walks backward with ?before_seq=N; ?limit=N caps the page.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var beforeSeq int64
	if v := r.URL.Query().Get("before_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			beforeSeq = n
		}
	}

	messages, err := h.chat.History(r.Context(), userID, conversationID, limit, beforeSeq)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, messages)
}

// SendMessage appends a message over REST. The WebSocket command is the
// primary path; this exists for clients without an open socket.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var in chat.SendInput
	if !decodeBody(w, r, &in) {
		return
	}

	msg, err := h.chat.Send(r.Context(), userID, in)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// DeleteMessage soft-deletes a message the caller sent.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	if err := h.chat.DeleteMessage(r.Context(), userID, messageID); err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// MarkConversationRead advances the caller's read watermark to now.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.chat.MarkRead(r.Context(), userID, conversationID); err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

// AddMember adds a user to a group conversation.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.chat.AddMember(r.Context(), userID, conversationID, req.UserID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// RemoveMember removes a user from a group conversation.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")
	memberID := chi.URLParam(r, "memberID")

	conv, err := h.chat.RemoveMember(r.Context(), userID, conversationID, memberID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}
