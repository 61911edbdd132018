package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avetrov/deskwire/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close repository: %v", err)
		}
	})
	return repo
}

func at(minute int) time.Time {
	return time.Date(2025, 6, 1, 12, minute, 0, 0, time.UTC)
}

func directConv(t *testing.T, repo Repository, id, userA, userB string) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{
		ID:             id,
		Kind:           domain.KindDirect,
		ParticipantIDs: []string{userA, userB},
		CreatedBy:      userA,
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
	}
	if err := repo.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}
	return conv
}

func appendMsg(t *testing.T, repo Repository, id, convID, sender string, createdAt time.Time) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Body:           "body-" + id,
		CreatedAt:      createdAt,
	}
	if err := repo.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("Failed to append message %s: %v", id, err)
	}
	return msg
}

func TestUser_UpsertAndGet(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	missing, err := repo.GetUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("Failed to query missing user: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing user, got %+v", missing)
	}

	user := &domain.User{
		UserID:     "alice",
		Username:   "Alice",
		LastSeenAt: at(0),
		CreatedAt:  at(0),
		UpdatedAt:  at(0),
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}

	got, err := repo.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if got.Username != "Alice" || !got.LastSeenAt.Equal(at(0)) {
		t.Errorf("Unexpected user %+v", got)
	}

	if err := repo.UpdateLastSeen(ctx, "alice", at(5)); err != nil {
		t.Fatalf("Failed to update last seen: %v", err)
	}
	got, err = repo.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if !got.LastSeenAt.Equal(at(5)) {
		t.Errorf("Expected last seen %v, got %v", at(5), got.LastSeenAt)
	}
}

func TestCreateConversation_DirectKeyUnique(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	directConv(t, repo, "c1", "alice", "bob")

	dup := &domain.Conversation{
		ID:             "c2",
		Kind:           domain.KindDirect,
		ParticipantIDs: []string{"bob", "alice"},
		CreatedBy:      "bob",
		CreatedAt:      at(1),
		UpdatedAt:      at(1),
	}
	err := repo.CreateConversation(ctx, dup)
	if !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict for reversed duplicate pair, got %v", err)
	}

	found, err := repo.GetDirectConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Failed to lookup: %v", err)
	}
	if found == nil || found.ID != "c1" {
		t.Errorf("Expected canonical conversation c1, got %+v", found)
	}
}

func TestCreateConversation_DirectRequiresTwoParticipants(t *testing.T) {
	repo := newTestStore(t)

	conv := &domain.Conversation{
		ID:             "c1",
		Kind:           domain.KindDirect,
		ParticipantIDs: []string{"alice"},
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
	}
	if err := repo.CreateConversation(context.Background(), conv); !errdefs.IsInvalidArgument(err) {
		t.Errorf("Expected invalid argument, got %v", err)
	}
}

func TestParticipants_AddIdempotentRemoveStrict(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	conv := &domain.Conversation{
		ID:             "g1",
		Kind:           domain.KindGroup,
		Name:           "Team",
		ParticipantIDs: []string{"alice"},
		CreatedBy:      "alice",
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
	}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	if err := repo.AddParticipant(ctx, "g1", "bob", at(1)); err != nil {
		t.Fatalf("Failed to add participant: %v", err)
	}
	if err := repo.AddParticipant(ctx, "g1", "bob", at(2)); err != nil {
		t.Errorf("Expected repeated add to be idempotent, got %v", err)
	}

	got, err := repo.GetConversation(ctx, "g1")
	if err != nil {
		t.Fatalf("Failed to get conversation: %v", err)
	}
	if len(got.ParticipantIDs) != 2 {
		t.Errorf("Expected 2 participants, got %v", got.ParticipantIDs)
	}

	if err := repo.RemoveParticipant(ctx, "g1", "carol"); !errdefs.IsNotFound(err) {
		t.Errorf("Expected not found for unknown member, got %v", err)
	}
	if err := repo.RemoveParticipant(ctx, "g1", "bob"); err != nil {
		t.Fatalf("Failed to remove participant: %v", err)
	}
}

func TestAppendMessage_DuplicateIDConflicts(t *testing.T) {
	repo := newTestStore(t)

	directConv(t, repo, "c1", "alice", "bob")
	appendMsg(t, repo, "m1", "c1", "alice", at(1))

	dup := &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "again", CreatedAt: at(2)}
	if err := repo.AppendMessage(context.Background(), dup); !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict for duplicate message id, got %v", err)
	}
}

func TestAppendMessage_AssignsMonotonicSeq(t *testing.T) {
	repo := newTestStore(t)

	directConv(t, repo, "c1", "alice", "bob")
	m1 := appendMsg(t, repo, "m1", "c1", "alice", at(1))
	m2 := appendMsg(t, repo, "m2", "c1", "alice", at(1))

	if m2.Seq <= m1.Seq {
		t.Errorf("Expected increasing seq, got %d then %d", m1.Seq, m2.Seq)
	}
}

func TestUnreadCount_WatermarkSemantics(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	directConv(t, repo, "c1", "alice", "bob")
	appendMsg(t, repo, "m1", "c1", "alice", at(1))
	appendMsg(t, repo, "m2", "c1", "alice", at(2))
	appendMsg(t, repo, "m3", "c1", "bob", at(3))
	appendMsg(t, repo, "m4", "c1", "alice", at(4))

	// No watermark yet: everything from the other participant counts.
	count, err := repo.UnreadCount(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 unread for bob (own message excluded), got %d", count)
	}

	if err := repo.MarkConversationRead(ctx, "bob", "c1", at(2)); err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}
	count, err = repo.UnreadCount(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 unread past the watermark, got %d", count)
	}

	// The watermark never moves backward.
	if err := repo.MarkConversationRead(ctx, "bob", "c1", at(1)); err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}
	count, err = repo.UnreadCount(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected watermark regression ignored, got %d", count)
	}
}

func TestUnreadCount_DeletedExcluded(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	directConv(t, repo, "c1", "alice", "bob")
	appendMsg(t, repo, "m1", "c1", "alice", at(1))

	ok, err := repo.SoftDeleteMessage(ctx, "m1", "alice", at(2))
	if err != nil || !ok {
		t.Fatalf("Failed to soft delete: ok=%v err=%v", ok, err)
	}

	count, err := repo.UnreadCount(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected deleted message excluded, got %d", count)
	}

	// A second delete of the same message affects nothing.
	ok, err = repo.SoftDeleteMessage(ctx, "m1", "alice", at(3))
	if err != nil {
		t.Fatalf("Failed repeated soft delete: %v", err)
	}
	if ok {
		t.Error("Expected repeated soft delete to report no rows")
	}
}

func TestUnreadCounts_CoversAllConversations(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	directConv(t, repo, "c1", "alice", "bob")
	directConv2 := &domain.Conversation{
		ID:             "c2",
		Kind:           domain.KindDirect,
		ParticipantIDs: []string{"bob", "carol"},
		CreatedBy:      "bob",
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
	}
	if err := repo.CreateConversation(ctx, directConv2); err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}
	appendMsg(t, repo, "m1", "c1", "alice", at(1))

	counts, err := repo.UnreadCounts(ctx, "bob")
	if err != nil {
		t.Fatalf("Failed to compute counts: %v", err)
	}
	if counts["c1"] != 1 {
		t.Errorf("Expected 1 unread in c1, got %d", counts["c1"])
	}
	if got, ok := counts["c2"]; !ok || got != 0 {
		t.Errorf("Expected explicit zero for quiet conversation, got %d (present=%v)", got, ok)
	}
}

func TestCompleteActiveTimer_AtomicStop(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	timer := &domain.ActiveTimer{UserID: "alice", TaskID: "task-1", StartedAt: at(0)}
	if err := repo.InsertActiveTimer(ctx, timer); err != nil {
		t.Fatalf("Failed to insert timer: %v", err)
	}

	entry := &domain.TimeEntry{
		ID:        "entry-1",
		UserID:    "alice",
		TaskID:    "task-1",
		StartedAt: at(0),
		Duration:  25 * time.Minute,
		CreatedAt: at(25),
	}
	if err := repo.CompleteActiveTimer(ctx, "alice", entry); err != nil {
		t.Fatalf("Failed to complete timer: %v", err)
	}

	got, err := repo.GetActiveTimer(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get timer: %v", err)
	}
	if got != nil {
		t.Errorf("Expected timer cleared, got %+v", got)
	}
	entries, err := repo.ListTimeEntries(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "entry-1" {
		t.Fatalf("Expected the completed entry recorded, got %+v", entries)
	}

	// Completing without a timer row rolls the entry back too.
	second := &domain.TimeEntry{
		ID:        "entry-2",
		UserID:    "alice",
		TaskID:    "task-1",
		StartedAt: at(30),
		Duration:  5 * time.Minute,
		CreatedAt: at(35),
	}
	if err := repo.CompleteActiveTimer(ctx, "alice", second); !errdefs.IsNotFound(err) {
		t.Fatalf("Expected not found without a running timer, got %v", err)
	}
	entries, err = repo.ListTimeEntries(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected no entry recorded by the failed stop, got %d", len(entries))
	}
}

func TestActiveTimer_SingleRowPerUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	timer := &domain.ActiveTimer{UserID: "alice", TaskID: "task-1", StartedAt: at(0)}
	if err := repo.InsertActiveTimer(ctx, timer); err != nil {
		t.Fatalf("Failed to insert timer: %v", err)
	}

	second := &domain.ActiveTimer{UserID: "alice", TaskID: "task-2", StartedAt: at(1)}
	if err := repo.InsertActiveTimer(ctx, second); !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict for second timer, got %v", err)
	}

	got, err := repo.GetActiveTimer(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get timer: %v", err)
	}
	if got == nil || got.TaskID != "task-1" {
		t.Errorf("Expected original timer preserved, got %+v", got)
	}

	ok, err := repo.DeleteActiveTimer(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Failed to delete timer: ok=%v err=%v", ok, err)
	}
	got, err = repo.GetActiveTimer(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get timer: %v", err)
	}
	if got != nil {
		t.Errorf("Expected no timer after delete, got %+v", got)
	}
}

func TestNotifications_ReadStateRoundtrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	n := &domain.Notification{
		ID:          "n1",
		RecipientID: "alice",
		Type:        "mention",
		Payload:     []byte(`{"task_id":"t1"}`),
		CreatedAt:   at(0),
	}
	if err := repo.CreateNotification(ctx, n); err != nil {
		t.Fatalf("Failed to create notification: %v", err)
	}

	got, err := repo.GetNotification(ctx, "n1")
	if err != nil {
		t.Fatalf("Failed to get notification: %v", err)
	}
	if got.IsRead || string(got.Payload) != `{"task_id":"t1"}` {
		t.Errorf("Unexpected notification %+v", got)
	}

	ok, err := repo.MarkNotificationRead(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("Failed to mark read: ok=%v err=%v", ok, err)
	}
	count, err := repo.UnreadNotificationCount(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 unread, got %d", count)
	}
}
