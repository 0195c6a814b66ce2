package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/linechat-server/internal/store"
	"github.com/vovakirdan/linechat-server/internal/store/migrations"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the embedded migrations.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		return migrations.Up(context.Background(), db, migrations.DialectSQLite)
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; ":memory:" depends on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a user row. A taken username yields store.ErrUserExists.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, username, passwordHash); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// UserExists reports whether username is registered.
func (s *SQLiteStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return exists, nil
}

// ListUsernames returns every registered username in alphabetical order.
func (s *SQLiteStore) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return names, nil
}

// ==== MessageStore implementation ====

// SaveMessage appends a message and returns it with its assigned ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	query := `
		INSERT INTO messages (sender, recipient, body, created_at, is_read)
		VALUES (?, ?, ?, ?, ?)
	`
	createdAt := msg.CreatedAt.UTC()
	result, err := s.db.ExecContext(ctx, query, msg.Sender, nullString(msg.Recipient), msg.Body, createdAt, msg.Read)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	saved := *msg
	saved.ID = id
	saved.CreatedAt = createdAt
	return &saved, nil
}

// ListBroadcast returns the newest limit broadcast messages, oldest-first.
func (s *SQLiteStore) ListBroadcast(ctx context.Context, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE recipient IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, sqlLimit(limit))
}

// ListPrivateBetween returns the newest limit private messages exchanged by two users, oldest-first.
func (s *SQLiteStore) ListPrivateBetween(ctx context.Context, userA, userB string, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, userA, userB, userB, userA, sqlLimit(limit))
}

// ListPrivateFor returns the newest limit private messages sent or received by username, oldest-first.
func (s *SQLiteStore) ListPrivateFor(ctx context.Context, username string, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE recipient IS NOT NULL AND (sender = ? OR recipient = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, username, username, sqlLimit(limit))
}

// MarkRead flags a single message as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// MarkAllReadFor flags every unread private message addressed to recipient as read.
func (s *SQLiteStore) MarkAllReadFor(ctx context.Context, recipient string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE recipient = ? AND is_read = 0`, recipient)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return result.RowsAffected()
}

// DeleteBroadcast removes all broadcast messages.
func (s *SQLiteStore) DeleteBroadcast(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE recipient IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete broadcast messages: %w", err)
	}
	return result.RowsAffected()
}

// DeleteForUser removes the private messages username sent or received.
// Broadcast messages are left alone.
func (s *SQLiteStore) DeleteForUser(ctx context.Context, username string) (int64, error) {
	query := `DELETE FROM messages WHERE recipient IS NOT NULL AND (sender = ? OR recipient = ?)`
	result, err := s.db.ExecContext(ctx, query, username, username)
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var (
			msg       store.Message
			recipient sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Sender, &recipient, &msg.Body, &msg.CreatedAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Recipient = recipient.String
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Rows come newest-first; callers want display order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ==== FileStore implementation ====

// SaveFile records attachment metadata.
func (s *SQLiteStore) SaveFile(ctx context.Context, f *store.File) error {
	query := `
		INSERT INTO files (id, sender, recipient, name, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, f.ID, f.Sender, nullString(f.Recipient), f.Name, f.Size, f.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// GetFile retrieves attachment metadata by ID.
func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*store.File, error) {
	query := `
		SELECT id, sender, recipient, name, size, created_at
		FROM files
		WHERE id = ?
	`
	var (
		f         store.File
		recipient sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.Sender, &recipient, &f.Name, &f.Size, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %q: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query file: %w", err)
	}
	f.Recipient = recipient.String
	return &f, nil
}

// DeleteFile removes attachment metadata. Unknown IDs are a no-op.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
