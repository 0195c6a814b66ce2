// Package postgres implements the storage interfaces on PostgreSQL through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vovakirdan/linechat-server/internal/store"
	"github.com/vovakirdan/linechat-server/internal/store/migrations"
)

const uniqueViolation = "23505"

// PostgresStore implements store.Store for PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New opens a connection pool for dsn, verifies it and applies migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.Up(ctx, db, migrations.DialectPostgres); err != nil {
		db.Close()
		return nil, err
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an already opened database handle.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	user := store.User{Username: username, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, query, username, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = $1
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
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

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	query := `
		INSERT INTO messages (sender, recipient, body, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	saved := *msg
	saved.CreatedAt = msg.CreatedAt.UTC()
	err := s.db.QueryRowContext(ctx, query, msg.Sender, nullString(msg.Recipient), msg.Body, saved.CreatedAt, msg.Read).Scan(&saved.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &saved, nil
}

func (s *PostgresStore) ListBroadcast(ctx context.Context, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE recipient IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return s.queryMessages(ctx, query, sqlLimit(limit))
}

func (s *PostgresStore) ListPrivateBetween(ctx context.Context, userA, userB string, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return s.queryMessages(ctx, query, userA, userB, sqlLimit(limit))
}

func (s *PostgresStore) ListPrivateFor(ctx context.Context, username string, limit int) ([]store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_read
		FROM messages
		WHERE recipient IS NOT NULL AND (sender = $1 OR recipient = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return s.queryMessages(ctx, query, username, sqlLimit(limit))
}

func (s *PostgresStore) MarkRead(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllReadFor(ctx context.Context, recipient string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE recipient = $1 AND NOT is_read`, recipient)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) DeleteBroadcast(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE recipient IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete broadcast messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) DeleteForUser(ctx context.Context, username string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE recipient IS NOT NULL AND (sender = $1 OR recipient = $1)`, username)
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]store.Message, error) {
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

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) SaveFile(ctx context.Context, f *store.File) error {
	query := `
		INSERT INTO files (id, sender, recipient, name, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, f.ID, f.Sender, nullString(f.Recipient), f.Name, f.Size, f.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, id string) (*store.File, error) {
	query := `
		SELECT id, sender, recipient, name, size, created_at
		FROM files
		WHERE id = $1
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

func (s *PostgresStore) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sqlLimit maps a non-positive limit to LIMIT NULL, which Postgres treats as no limit.
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
