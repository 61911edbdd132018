package domain

import (
	"time"
)

// ActiveTimer is the at-most-one-per-user running time-tracking session.
// The exclusivity invariant is global per user, not per session: two open
// tabs of the same user share (and race for) the same slot.
type ActiveTimer struct {
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// Elapsed returns the running duration as of now.
func (t *ActiveTimer) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.StartedAt)
}

// TimeEntry is a persisted unit of recorded work, produced either by
// stopping a timer or by a manual append that bypasses the timer entirely.
type TimeEntry struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	TaskID      string        `json:"task_id"`
	Description string        `json:"description,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Manual      bool          `json:"manual"`
	CreatedAt   time.Time     `json:"created_at"`
}
