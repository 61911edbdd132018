// Package api provides HTTP handlers for the Deskwire API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/avetrov/deskwire/internal/chat"
	"github.com/avetrov/deskwire/internal/notify"
	"github.com/avetrov/deskwire/internal/realtime"
	"github.com/avetrov/deskwire/internal/store"
	"github.com/avetrov/deskwire/internal/timetrack"
)

// maxBodyBytes caps request bodies. Messages and notification payloads
// are small; anything larger is a client bug.
const maxBodyBytes = 64 * 1024

// Handler provides common handler utilities and holds the domain services
// the REST surface fronts.
type Handler struct {
	repo     store.Repository
	chat     *chat.Service
	notify   *notify.Service
	timers   *timetrack.Service
	presence *realtime.Presence
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(
	repo store.Repository,
	chatSvc *chat.Service,
	notifySvc *notify.Service,
	timerSvc *timetrack.Service,
	presence *realtime.Presence,
) *Handler {
	return &Handler{
		repo:     repo,
		chat:     chatSvc,
		notify:   notifySvc,
		timers:   timerSvc,
		presence: presence,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps a domain error to its HTTP status and writes it.
func ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errdefs.IsInvalidArgument(err):
		Error(w, http.StatusBadRequest, err.Error())
	case errdefs.IsNotFound(err):
		Error(w, http.StatusNotFound, err.Error())
	case errdefs.IsPermissionDenied(err):
		Error(w, http.StatusForbidden, err.Error())
	case errdefs.IsConflict(err):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into v with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			Error(w, http.StatusBadRequest, "request body required")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
