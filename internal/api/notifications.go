package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avetrov/deskwire/internal/identity"
)

const defaultNotificationLimit = 50

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	notifications, err := h.notify.List(r.Context(), userID, limit)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, notifications)
}

type createNotificationRequest struct {
	RecipientID string          `json:"recipient_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// CreateNotification creates and delivers a notification. This is the
// ingestion point for the surrounding application's domain events
// (mentions, task assignments, due-date reminders).
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n, err := h.notify.Create(r.Context(), req.RecipientID, req.Type, req.Payload)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, n)
}

// MarkNotificationRead flips one notification to read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	notificationID := chi.URLParam(r, "notificationID")

	if err := h.notify.MarkRead(r.Context(), userID, notificationID); err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllNotificationsRead drives the caller's unread total to zero.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if err := h.notify.MarkAllRead(r.Context(), userID); err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// DeleteNotification removes one of the caller's notifications.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	notificationID := chi.URLParam(r, "notificationID")

	if err := h.notify.Delete(r.Context(), userID, notificationID); err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
