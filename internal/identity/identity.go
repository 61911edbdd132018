// Package identity resolves the authenticated user and per-tab session id
// for each request. Authentication itself is an external collaborator: an
// upstream gateway verifies credentials and forwards the user id in a
// trusted header. In development mode the user id may also come from a
// query parameter for local testing.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/store"
)

const (
	UserHeaderName        = "X-Deskwire-User-ID"
	UsernameHeaderName    = "X-Deskwire-Username"
	SessionHeaderName     = "X-Deskwire-Session-ID"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	sessionIDKey
)

var (
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

func isValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(r *http.Request, userID string) string {
	if name := strings.TrimSpace(r.Header.Get(UsernameHeaderName)); name != "" {
		return name
	}
	return userID
}

func ensureUser(ctx context.Context, repo store.Repository, userID, username string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}

	now := time.Now()
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func userIDFromRequest(r *http.Request, isDev bool) string {
	id := strings.TrimSpace(r.Header.Get(UserHeaderName))
	if id == "" && isDev {
		id = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if !isValidUserID(id) {
		return ""
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the gateway-authenticated identity and per-request
// session ID, creating the user record on first sight.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r, isDev)
			if userID == "" {
				http.Error(w, `{"error":"missing or invalid user identity"}`, http.StatusUnauthorized)
				return
			}

			username := deriveUsername(r, userID)
			if err := ensureUser(r.Context(), repo, userID, username); err != nil {
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			sessionID := sessionIDFromRequest(r)

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, usernameKey, username)
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
