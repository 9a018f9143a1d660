// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/thread/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection so the PRAGMAs below apply to every statement
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent writers wait for the lock instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Thread participants are stored in normalized order (lo < hi) so the
// UNIQUE index enforces at most one thread per unordered pair.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threads (
			id             TEXT PRIMARY KEY,
			participant_lo TEXT NOT NULL,
			participant_hi TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			FOREIGN KEY (participant_lo) REFERENCES users(id),
			FOREIGN KEY (participant_hi) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_pair
			ON threads(participant_lo, participant_hi);

		CREATE INDEX IF NOT EXISTS idx_threads_participant_lo ON threads(participant_lo);
		CREATE INDEX IF NOT EXISTS idx_threads_participant_hi ON threads(participant_hi);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			sender     TEXT NOT NULL,
			text       TEXT NOT NULL,
			is_read    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id),
			FOREIGN KEY (sender) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_unread
			ON messages(thread_id, is_read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// pairKey normalizes two participant IDs into (lo, hi) order.
// Thread pairing is unordered, so both lookups and inserts go through this.
func pairKey(a, b string) (lo, hi string) {
	if a > b {
		return b, a
	}
	return a, b
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// isTransient reports whether the error is a retryable store failure
// (lock contention or a context deadline) rather than a logic error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}

// wrapErr wraps a store error with its operation, translating transient
// failures to ErrUnavailable so callers can retry safely.
func wrapErr(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateUser creates a new directory entry.
// Returns ErrDuplicateUser if the username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return wrapErr("inserting user", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, username, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
// Returns ErrNotFound if no user has the given username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, created_at FROM users WHERE username = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Username, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying user", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateThread creates a new thread in the database. The participant pair
// is stored in normalized order; the insert is a single atomic statement,
// so no reader ever observes a thread with fewer than two participants.
// Returns ErrDuplicateThread if a thread already exists for the pair.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if len(thread.Participants) != 2 {
		return fmt.Errorf("thread requires exactly 2 participants, got %d", len(thread.Participants))
	}
	lo, hi := pairKey(thread.Participants[0], thread.Participants[1])

	query := `
		INSERT INTO threads (id, participant_lo, participant_hi, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		lo,
		hi,
		thread.CreatedAt.UTC().Format(time.RFC3339Nano),
		thread.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return wrapErr("inserting thread", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "participants", thread.Participants)
	return nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, participant_lo, participant_hi, created_at, updated_at
		FROM threads
		WHERE id = ?
	`
	return s.scanThread(s.db.QueryRowContext(ctx, query, id))
}

// GetThreadByParticipants retrieves the thread for an unordered participant
// pair. This uses the idx_threads_pair index for efficient lookups.
// Returns ErrNotFound if no thread exists for the pair.
func (s *SQLiteStore) GetThreadByParticipants(ctx context.Context, a, b string) (*Thread, error) {
	lo, hi := pairKey(a, b)
	query := `
		SELECT id, participant_lo, participant_hi, created_at, updated_at
		FROM threads
		WHERE participant_lo = ? AND participant_hi = ?
	`
	return s.scanThread(s.db.QueryRowContext(ctx, query, lo, hi))
}

func (s *SQLiteStore) scanThread(row *sql.Row) (*Thread, error) {
	var thread Thread
	var lo, hi string
	var createdAtStr, updatedAtStr string

	err := row.Scan(&thread.ID, &lo, &hi, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying thread", err)
	}

	thread.Participants = []string{lo, hi}

	thread.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &thread, nil
}

// TouchThread refreshes a thread's updated timestamp. Participants are
// immutable, so this is the only thread mutation the store supports.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) TouchThread(ctx context.Context, id string, updatedAt time.Time) error {
	query := `UPDATE threads SET updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, updatedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return wrapErr("updating thread", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("touched thread", "id", id)
	return nil
}

// ListThreadsForUser retrieves threads where the user is a participant,
// in creation order, bounded by the given page.
func (s *SQLiteStore) ListThreadsForUser(ctx context.Context, userID string, page Page) ([]*Thread, error) {
	limit, offset := clampPage(page)

	query := `
		SELECT id, participant_lo, participant_hi, created_at, updated_at
		FROM threads
		WHERE participant_lo = ? OR participant_hi = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit, offset)
	if err != nil {
		return nil, wrapErr("querying threads", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var thread Thread
		var lo, hi string
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&thread.ID, &lo, &hi, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}

		thread.Participants = []string{lo, hi}

		thread.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		thread.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}

	return threads, nil
}

// DeleteThread deletes a thread and all its messages in a single
// transaction, so no orphan messages can survive a partial failure.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return wrapErr("deleting thread messages", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return wrapErr("deleting thread", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("committing thread deletion", err)
	}

	s.logger.Debug("deleted thread", "id", id)
	return nil
}

// CreateMessage saves a new message. The thread and sender must exist
// (enforced by foreign keys).
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, thread_id, sender, text, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ThreadID,
		msg.Sender,
		msg.Text,
		boolToInt(msg.IsRead),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapErr("inserting message", err)
	}

	s.logger.Debug("created message", "id", msg.ID, "thread_id", msg.ThreadID, "sender", msg.Sender)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetMessage retrieves a message scoped to a thread.
// Returns ErrNotFound if the message doesn't exist in the given thread.
func (s *SQLiteStore) GetMessage(ctx context.Context, threadID, id string) (*Message, error) {
	query := `
		SELECT id, thread_id, sender, text, is_read, created_at
		FROM messages
		WHERE thread_id = ? AND id = ?
	`

	var msg Message
	var isRead int
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, threadID, id).Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.Sender,
		&msg.Text,
		&isRead,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying message", err)
	}

	msg.IsRead = isRead != 0
	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// ListMessages retrieves messages for a thread in chronological order
// (oldest first), bounded by the given page.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, page Page) ([]*Message, error) {
	limit, offset := clampPage(page)

	query := `
		SELECT id, thread_id, sender, text, is_read, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, threadID, limit, offset)
	if err != nil {
		return nil, wrapErr("querying messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var isRead int
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Sender, &msg.Text, &isRead, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.IsRead = isRead != 0
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// UpdateMessageText replaces a message's text. Text is the only mutable
// message field; is_read changes go through MarkMessageRead only.
// Returns ErrNotFound if the message doesn't exist in the given thread.
func (s *SQLiteStore) UpdateMessageText(ctx context.Context, threadID, id, text string) error {
	query := `UPDATE messages SET text = ? WHERE thread_id = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, query, text, threadID, id)
	if err != nil {
		return wrapErr("updating message", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated message text", "id", id, "thread_id", threadID)
	return nil
}

// DeleteMessage deletes a message scoped to a thread.
// Returns ErrNotFound if the message doesn't exist in the given thread.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, threadID, id string) error {
	query := `DELETE FROM messages WHERE thread_id = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, query, threadID, id)
	if err != nil {
		return wrapErr("deleting message", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted message", "id", id, "thread_id", threadID)
	return nil
}

// MarkMessageRead flips is_read to true with a compare-and-set so
// concurrent calls converge without a lost update. Returns changed=false
// when the message was already read (idempotent no-op).
// Returns ErrNotFound if the message doesn't exist in the given thread.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, threadID, id string) (bool, error) {
	query := `UPDATE messages SET is_read = 1 WHERE thread_id = ? AND id = ? AND is_read = 0`

	result, err := s.db.ExecContext(ctx, query, threadID, id)
	if err != nil {
		return false, wrapErr("marking message read", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("marked message read", "id", id, "thread_id", threadID)
		return true, nil
	}

	// No row flipped: either already read or absent. Distinguish.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE thread_id = ? AND id = ?`, threadID, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, wrapErr("checking message existence", err)
	}

	return false, nil
}

// CountUnread counts unread messages in a thread not authored by
// excludeSender, i.e. the messages sent TO that user.
func (s *SQLiteStore) CountUnread(ctx context.Context, threadID, excludeSender string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE thread_id = ? AND is_read = 0 AND sender != ?
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, threadID, excludeSender).Scan(&count); err != nil {
		return 0, wrapErr("counting unread messages", err)
	}

	return count, nil
}

// clampPage applies the default and maximum page limits.
func clampPage(page Page) (limit, offset int) {
	limit = page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset = page.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
