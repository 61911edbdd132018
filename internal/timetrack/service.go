// Package timetrack implements the exclusive per-user work timer and the
// time entry ledger it feeds.
package timetrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/store"
)

// Publisher is the slice of the event transport the timer controller needs.
type Publisher interface {
	PublishEvent(topic, eventType string, payload interface{})
}

// Service enforces the one-running-timer-per-user invariant. Start is an
// atomic check-and-set: a per-user lock serializes concurrent starts from
// the same user's sessions within this process, and the single-row-per-user
// active_timers table backs the invariant across processes.
type Service struct {
	repo      store.Repository
	publisher Publisher
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates the timer controller.
func NewService(repo store.Repository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockUser(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start begins a timer on a task. Fails with a conflict error if the user
// already has a running timer, regardless of which task or session started
// it; the running timer is left untouched. The new state is announced to
// all of the user's sessions.
func (s *Service) Start(ctx context.Context, userID, taskID string) (*domain.ActiveTimer, error) {
	if taskID == "" {
		return nil, fmt.Errorf("timer requires a task: %w", errdefs.ErrInvalidArgument)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	timer := &domain.ActiveTimer{
		UserID:    userID,
		TaskID:    taskID,
		StartedAt: s.now(),
	}
	if err := s.repo.InsertActiveTimer(ctx, timer); err != nil {
		return nil, err
	}

	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventTimerStart,
		domain.TimerStarted{UserID: userID, TaskID: taskID, StartedAt: timer.StartedAt})

	slog.Info("Timer started", "user_id", userID, "task_id", taskID)
	return timer, nil
}

// Stop ends the user's running timer, persists a time entry attributed to
// the timer's task, and announces the stop to all of the user's sessions.
// Fails with a not-found error if no timer is running.
func (s *Service) Stop(ctx context.Context, userID, description string) (*domain.TimeEntry, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	timer, err := s.repo.GetActiveTimer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active timer: %w", err)
	}
	if timer == nil {
		return nil, fmt.Errorf("no running timer for user %s: %w", userID, errdefs.ErrNotFound)
	}

	now := s.now()
	entry := &domain.TimeEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskID:      timer.TaskID,
		Description: description,
		StartedAt:   timer.StartedAt,
		Duration:    timer.Elapsed(now),
		Manual:      false,
		CreatedAt:   now,
	}
	if err := s.repo.CompleteActiveTimer(ctx, userID, entry); err != nil {
		return nil, fmt.Errorf("complete timer: %w", err)
	}

	s.publisher.PublishEvent(domain.UserTopic(userID), domain.EventTimerStop,
		domain.TimerStopped{UserID: userID, TaskID: timer.TaskID, Duration: entry.Duration, EntryID: entry.ID})

	slog.Info("Timer stopped", "user_id", userID, "task_id", timer.TaskID, "duration", entry.Duration)
	return entry, nil
}

// Active returns the user's running timer, or nil, for the reconciliation
// snapshot.
func (s *Service) Active(ctx context.Context, userID string) (*domain.ActiveTimer, error) {
	return s.repo.GetActiveTimer(ctx, userID)
}

// ManualEntryInput describes a time entry recorded without a timer.
type ManualEntryInput struct {
	TaskID      string        `json:"task_id"`
	Description string        `json:"description,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// AddManualEntry appends a time entry directly, bypassing the timer and
// its exclusivity invariant entirely.
func (s *Service) AddManualEntry(ctx context.Context, userID string, in ManualEntryInput) (*domain.TimeEntry, error) {
	if in.TaskID == "" {
		return nil, fmt.Errorf("time entry requires a task: %w", errdefs.ErrInvalidArgument)
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("time entry requires a positive duration: %w", errdefs.ErrInvalidArgument)
	}

	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now().Add(-in.Duration)
	}

	entry := &domain.TimeEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskID:      in.TaskID,
		Description: in.Description,
		StartedAt:   startedAt,
		Duration:    in.Duration,
		Manual:      true,
		CreatedAt:   s.now(),
	}
	if err := s.repo.InsertTimeEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist manual time entry: %w", err)
	}
	return entry, nil
}

// Entries returns the user's time entries, newest first.
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]*domain.TimeEntry, error) {
	return s.repo.ListTimeEntries(ctx, userID, limit)
}
