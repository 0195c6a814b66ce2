package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// User represents a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string // PHC-encoded, salt included
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
// An empty Recipient marks a broadcast message.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Body      string
	CreatedAt time.Time
	Read      bool
}

// IsBroadcast reports whether the message was sent to the general room.
func (m Message) IsBroadcast() bool {
	return m.Recipient == ""
}

// File describes an uploaded attachment. The payload itself lives in attachment storage.
type File struct {
	ID        string
	Sender    string
	Recipient string // empty for files sent to everyone
	Name      string
	Size      int64
	CreatedAt time.Time
}

// UserStore defines user persistence operations.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// MessageStore defines message persistence operations.
// Queries bounded by limit return the newest rows, oldest-first.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) (*Message, error)
	ListBroadcast(ctx context.Context, limit int) ([]Message, error)
	ListPrivateBetween(ctx context.Context, userA, userB string, limit int) ([]Message, error)
	ListPrivateFor(ctx context.Context, username string, limit int) ([]Message, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllReadFor(ctx context.Context, recipient string) (int64, error)
	DeleteBroadcast(ctx context.Context) (int64, error)
	DeleteForUser(ctx context.Context, username string) (int64, error)
}

// FileStore persists attachment metadata.
type FileStore interface {
	SaveFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	DeleteFile(ctx context.Context, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	FileStore
	Close() error
}
