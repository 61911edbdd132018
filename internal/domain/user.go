// Package domain contains core domain types for the Deskwire sync core.
package domain

import (
	"time"
)

// User represents an account known to the sync core. Account management
// itself lives in the CRUD application; the sync core only needs enough
// to key presence, conversations, and notifications.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
