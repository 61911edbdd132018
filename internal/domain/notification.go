package domain

import (
	"encoding/json"
	"time"
)

// Notification is a per-user alert created by domain events in the CRUD
// application (task assigned, comment added, quote approved, ...).
// IsRead transitions false to true and never reverses individually;
// mark-all-read may bulk-set it.
type Notification struct {
	ID          string          `json:"id"`
	RecipientID string          `json:"recipient_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	IsRead      bool            `json:"is_read"`
	CreatedAt   time.Time       `json:"created_at"`
}
