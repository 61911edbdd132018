package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avetrov/deskwire/internal/domain"
	"github.com/avetrov/deskwire/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT,
		direct_key TEXT UNIQUE,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		body TEXT,
		attachment_ref TEXT,
		created_at INTEGER NOT NULL,
		deleted_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS read_states (
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		last_read_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, conversation_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		notification_id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, is_read);

	CREATE TABLE IF NOT EXISTS active_timers (
		user_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS time_entries (
		entry_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		description TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		manual INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_time_entries_user ON time_entries(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.UnixMilli(), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

func (s *SQLiteStore) scanConversation(ctx context.Context, row *sql.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	var name, createdBy sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&conv.ID, &conv.Kind, &name, &createdBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.Name = name.String
	conv.CreatedBy = createdBy.String
	conv.CreatedAt = time.UnixMilli(createdAt)
	conv.UpdatedAt = time.UnixMilli(updatedAt)

	participants, err := s.listParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.ParticipantIDs = participants

	return &conv, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY joined_at, user_id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close participants rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}

// GetConversation retrieves a conversation with its participants.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, kind, name, created_by, created_at, updated_at
		FROM conversations WHERE conversation_id = ?`
	return s.scanConversation(ctx, s.db.QueryRowContext(ctx, query, conversationID))
}

// GetDirectConversation retrieves the canonical direct conversation between two users.
func (s *SQLiteStore) GetDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, kind, name, created_by, created_at, updated_at
		FROM conversations WHERE direct_key = ?`
	return s.scanConversation(ctx, s.db.QueryRowContext(ctx, query, domain.DirectKey(userA, userB)))
}

// CreateConversation persists a conversation and its participant set.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var directKey interface{}
	if conv.Kind == domain.KindDirect {
		if len(conv.ParticipantIDs) != 2 {
			return fmt.Errorf("direct conversation requires exactly two participants: %w", errdefs.ErrInvalidArgument)
		}
		directKey = domain.DirectKey(conv.ParticipantIDs[0], conv.ParticipantIDs[1])
	}

	var name interface{}
	if conv.Name != "" {
		name = conv.Name
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, kind, name, direct_key, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Kind, name, directKey, conv.CreatedBy,
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("conversation already exists: %w", errdefs.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range conv.ParticipantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
			conv.ID, userID, conv.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation tx: %w", err)
	}
	return nil
}

// AddParticipant adds a member to a conversation. Idempotent.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string, joinedAt time.Time) error {
	query := `
		INSERT INTO participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, conversationID, userID, joinedAt.UnixMilli()); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes a member from a conversation.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("participant %s not in conversation %s: %w", userID, conversationID, errdefs.ErrNotFound)
	}
	return nil
}

// ListConversationIDs returns the ids of every conversation the user participates in.
func (s *SQLiteStore) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM participants WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversation ids: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation id rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	return ids, nil
}

// ListConversations returns the user's conversations with last-message
// preview and unread count.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	ids, err := s.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	counts, err := s.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	var summaries []*domain.ConversationSummary
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			continue
		}

		last, err := s.lastMessage(ctx, id)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, &domain.ConversationSummary{
			Conversation: *conv,
			LastMessage:  last,
			UnreadCount:  counts[id],
		})
	}

	// Most recent activity first.
	for i := 0; i < len(summaries); i++ {
		for j := i + 1; j < len(summaries); j++ {
			if summaryActivity(summaries[j]).After(summaryActivity(summaries[i])) {
				summaries[i], summaries[j] = summaries[j], summaries[i]
			}
		}
	}

	return summaries, nil
}

func summaryActivity(s *domain.ConversationSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Conversation.UpdatedAt
}

func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	query := `
		SELECT seq, message_id, conversation_id, sender_id, body, attachment_ref, created_at, deleted_at
		FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, seq DESC LIMIT 1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var body, attachmentRef sql.NullString
	var createdAt int64
	var deletedAt sql.NullInt64

	err := row.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.SenderID,
		&body, &attachmentRef, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg.Body = body.String
	msg.AttachmentRef = attachmentRef.String
	msg.CreatedAt = time.UnixMilli(createdAt)
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64)
		msg.DeletedAt = &t
	}
	return &msg, nil
}

// AppendMessage persists a message and assigns its sequence number.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var body, attachmentRef interface{}
	if msg.Body != "" {
		body = msg.Body
	}
	if msg.AttachmentRef != "" {
		attachmentRef = msg.AttachmentRef
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, sender_id, body, attachment_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, body, attachmentRef, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("message %s already exists: %w", msg.ID, errdefs.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("message sequence: %w", err)
	}
	msg.Seq = seq
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `
		SELECT seq, message_id, conversation_id, sender_id, body, attachment_ref, created_at, deleted_at
		FROM messages WHERE message_id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages of a conversation in ascending (created_at, seq) order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, beforeSeq int64) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT seq, message_id, conversation_id, sender_id, body, attachment_ref, created_at, deleted_at
		FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL`
	args := []interface{}{conversationID}

	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse the newest-first page into ascending order for delivery.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// SoftDeleteMessage marks a message deleted if senderID is its sender.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, messageID, senderID string, deletedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = ? WHERE message_id = ? AND sender_id = ? AND deleted_at IS NULL`,
		deletedAt.UnixMilli(), messageID, senderID)
	if err != nil {
		return false, fmt.Errorf("soft delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkConversationRead advances last_read_at for (user, conversation).
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, userID, conversationID string, readAt time.Time) error {
	query := `
		INSERT INTO read_states (user_id, conversation_id, last_read_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, conversation_id) DO UPDATE SET
			last_read_at = MAX(read_states.last_read_at, excluded.last_read_at)`
	if _, err := s.db.ExecContext(ctx, query, userID, conversationID, readAt.UnixMilli()); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// UnreadCount recomputes the unread message count for one conversation.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_id = ?
		  AND m.sender_id != ?
		  AND m.deleted_at IS NULL
		  AND m.created_at > COALESCE(
			(SELECT last_read_at FROM read_states WHERE user_id = ? AND conversation_id = ?), 0)`

	var count int
	err := s.db.QueryRowContext(ctx, query, conversationID, userID, userID, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// UnreadCounts recomputes unread counts for every conversation the user
// participates in.
func (s *SQLiteStore) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	query := `
		SELECT p.conversation_id, COUNT(m.seq)
		FROM participants p
		LEFT JOIN messages m ON m.conversation_id = p.conversation_id
			AND m.sender_id != p.user_id
			AND m.deleted_at IS NULL
			AND m.created_at > COALESCE(
				(SELECT last_read_at FROM read_states r
				 WHERE r.user_id = p.user_id AND r.conversation_id = p.conversation_id), 0)
		WHERE p.user_id = ?
		GROUP BY p.conversation_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close unread count rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan unread count row: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread counts: %w", err)
	}
	return counts, nil
}

// CreateNotification persists a notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	var payload interface{}
	if len(n.Payload) > 0 {
		payload = string(n.Payload)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (notification_id, recipient_id, type, payload, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Type, payload, n.IsRead, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("notification %s already exists: %w", n.ID, errdefs.ErrConflict)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var payload sql.NullString
	var createdAt int64

	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &payload, &n.IsRead, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		n.Payload = json.RawMessage(payload.String)
	}
	n.CreatedAt = time.UnixMilli(createdAt)
	return &n, nil
}

// GetNotification retrieves a notification by id.
func (s *SQLiteStore) GetNotification(ctx context.Context, notificationID string) (*domain.Notification, error) {
	query := `
		SELECT notification_id, recipient_id, type, payload, is_read, created_at
		FROM notifications WHERE notification_id = ?`

	n, err := scanNotification(s.db.QueryRowContext(ctx, query, notificationID))
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns notifications for a recipient, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT notification_id, recipient_id, type, payload, is_read, created_at
		FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC, notification_id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close notification rows", "error", closeErr)
		}
	}()

	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead flips is_read for one notification.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, notificationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE notification_id = ?`, notificationID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkAllNotificationsRead flips is_read for every unread notification of
// the recipient.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE recipient_id = ? AND is_read = 0`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

// DeleteNotification removes a notification.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, notificationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE notification_id = ?`, notificationID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UnreadNotificationCount recomputes the recipient's unread total.
func (s *SQLiteStore) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = 0`,
		recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// InsertActiveTimer creates the single active timer row for a user.
// The user_id primary key is the database half of the one-timer-per-user
// invariant; a duplicate insert surfaces as a conflict error.
func (s *SQLiteStore) InsertActiveTimer(ctx context.Context, timer *domain.ActiveTimer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_timers (user_id, task_id, started_at) VALUES (?, ?, ?)`,
		timer.UserID, timer.TaskID, timer.StartedAt.UnixMilli())
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("user %s already has a running timer: %w", timer.UserID, errdefs.ErrConflict)
		}
		return fmt.Errorf("insert active timer: %w", err)
	}
	return nil
}

// GetActiveTimer retrieves the user's active timer, if any.
func (s *SQLiteStore) GetActiveTimer(ctx context.Context, userID string) (*domain.ActiveTimer, error) {
	var timer domain.ActiveTimer
	var startedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, task_id, started_at FROM active_timers WHERE user_id = ?`,
		userID).Scan(&timer.UserID, &timer.TaskID, &startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active timer: %w", err)
	}

	timer.StartedAt = time.UnixMilli(startedAt)
	return &timer, nil
}

// DeleteActiveTimer clears the user's active timer.
func (s *SQLiteStore) DeleteActiveTimer(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM active_timers WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete active timer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CompleteActiveTimer persists the finished entry and clears the timer
// row in one transaction, so a failure cannot record the entry while the
// timer keeps running.
func (s *SQLiteStore) CompleteActiveTimer(ctx context.Context, userID string, entry *domain.TimeEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timer stop tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var description interface{}
	if entry.Description != "" {
		description = entry.Description
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO time_entries (entry_id, user_id, task_id, description, started_at, duration_ms, manual, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.TaskID, description,
		entry.StartedAt.UnixMilli(), entry.Duration.Milliseconds(), entry.Manual, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert time entry: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM active_timers WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete active timer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no running timer for user %s: %w", userID, errdefs.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit timer stop tx: %w", err)
	}
	return nil
}

// InsertTimeEntry persists a completed or manual time entry.
func (s *SQLiteStore) InsertTimeEntry(ctx context.Context, entry *domain.TimeEntry) error {
	var description interface{}
	if entry.Description != "" {
		description = entry.Description
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO time_entries (entry_id, user_id, task_id, description, started_at, duration_ms, manual, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.TaskID, description,
		entry.StartedAt.UnixMilli(), entry.Duration.Milliseconds(), entry.Manual, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert time entry: %w", err)
	}
	return nil
}

// ListTimeEntries returns time entries for a user, newest first.
func (s *SQLiteStore) ListTimeEntries(ctx context.Context, userID string, limit int) ([]*domain.TimeEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT entry_id, user_id, task_id, description, started_at, duration_ms, manual, created_at
		FROM time_entries WHERE user_id = ?
		ORDER BY created_at DESC, entry_id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query time entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close time entry rows", "error", closeErr)
		}
	}()

	var entries []*domain.TimeEntry
	for rows.Next() {
		var entry domain.TimeEntry
		var description sql.NullString
		var startedAt, durationMs, createdAt int64

		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.TaskID, &description,
			&startedAt, &durationMs, &entry.Manual, &createdAt); err != nil {
			return nil, fmt.Errorf("scan time entry row: %w", err)
		}

		entry.Description = description.String
		entry.StartedAt = time.UnixMilli(startedAt)
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time entries: %w", err)
	}
	return entries, nil
}
