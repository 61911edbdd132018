package api

import (
	"net/http"
	"strconv"

	"github.com/avetrov/deskwire/internal/identity"
	"github.com/avetrov/deskwire/internal/timetrack"
)

const defaultEntryLimit = 100

// GetTimer returns the caller's running timer, or null.
func (h *Handler) GetTimer(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	timer, err := h.timers.Active(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"timer": timer})
}

type startTimerRequest struct {
	TaskID string `json:"task_id"`
}

// StartTimer begins a timer on a task. Responds 409 if one is already
// running, leaving the running timer untouched.
func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req startTimerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	timer, err := h.timers.Start(r.Context(), userID, req.TaskID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, timer)
}

type stopTimerRequest struct {
	Description string `json:"description,omitempty"`
}

// StopTimer ends the caller's running timer and returns the recorded time
// entry. Responds 404 if no timer is running.
func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req stopTimerRequest
	if r.ContentLength > 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	entry, err := h.timers.Stop(r.Context(), userID, req.Description)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, entry)
}

// CreateTimeEntry records a manual time entry, bypassing the timer.
func (h *Handler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var in timetrack.ManualEntryInput
	if !decodeBody(w, r, &in) {
		return
	}

	entry, err := h.timers.AddManualEntry(r.Context(), userID, in)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, entry)
}

// ListTimeEntries returns the caller's time entries, newest first.
func (h *Handler) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	limit := defaultEntryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.timers.Entries(r.Context(), userID, limit)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, entries)
}
