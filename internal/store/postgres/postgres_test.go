package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vovakirdan/linechat-server/internal/store"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewFromDB(db), mock, db
}

func TestCreateUser_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+users\s*\(username,\s*password_hash\)\s*VALUES\s*\(\$1,\s*\$2\)\s*RETURNING\s+id,\s*created_at\s*$`
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q).
		WithArgs("alice", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	user, err := s.CreateUser(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if user.ID != 7 || user.Username != "alice" || !user.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUser_UniqueViolation(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WithArgs("alice", "hash").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	if _, err := s.CreateUser(context.Background(), "alice", "hash"); !errors.Is(err, store.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*username,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}))

	if _, err := s.GetUserByUsername(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveMessage_BroadcastUsesNullRecipient(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+messages`).
		WithArgs("alice", nil, "hello", sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	saved, err := s.SaveMessage(context.Background(), &store.Message{
		Sender:    "alice",
		Body:      "hello",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveMessage error: %v", err)
	}
	if saved.ID != 3 || !saved.IsBroadcast() {
		t.Fatalf("unexpected message: %+v", saved)
	}
}

func TestSaveMessage_DBError(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+messages`).
		WithArgs("alice", "bob", "hi", sqlmock.AnyArg(), false).
		WillReturnError(errors.New("db down"))

	_, err := s.SaveMessage(context.Background(), &store.Message{Sender: "alice", Recipient: "bob", Body: "hi", CreatedAt: time.Now()})
	if err == nil || !regexp.MustCompile(`insert message: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListPrivateBetween_ReturnsOldestFirst(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "sender", "recipient", "body", "created_at", "is_read"}).
		AddRow(int64(2), "bob", "alice", "second", t0.Add(time.Second), true).
		AddRow(int64(1), "alice", "bob", "first", t0, false)
	mock.ExpectQuery(`(?s)FROM\s+messages\s+WHERE\s+\(sender = \$1 AND recipient = \$2\).*LIMIT\s+\$3`).
		WithArgs("alice", "bob", 50).
		WillReturnRows(rows)

	msgs, err := s.ListPrivateBetween(context.Background(), "alice", "bob", 50)
	if err != nil {
		t.Fatalf("ListPrivateBetween error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "first" || msgs[1].Body != "second" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if !msgs[1].Read || msgs[0].Read {
		t.Fatalf("read flags not scanned: %+v", msgs)
	}
}

func TestListBroadcast_NoLimit(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE\s+recipient\s+IS\s+NULL`).
		WithArgs(nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender", "recipient", "body", "created_at", "is_read"}))

	msgs, err := s.ListBroadcast(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListBroadcast error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}
}

func TestDeleteForUser(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+messages\s+WHERE\s+recipient\s+IS\s+NOT\s+NULL\s+AND\s+\(sender\s*=\s*\$1\s+OR\s+recipient\s*=\s*\$1\)`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.DeleteForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DeleteForUser error: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 rows, got %d", n)
	}
}

func TestMarkAllReadFor(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+messages\s+SET\s+is_read\s*=\s*TRUE\s+WHERE\s+recipient\s*=\s*\$1`).
		WithArgs("bob").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.MarkAllReadFor(context.Background(), "bob")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d %v", n, err)
	}
}

func TestGetFile_Found(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM\s+files\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("f-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender", "recipient", "name", "size", "created_at"}).
			AddRow("f-1", "alice", nil, "cat.png", int64(10), created))

	f, err := s.GetFile(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("GetFile error: %v", err)
	}
	if f.Recipient != "" || f.Name != "cat.png" || f.Size != 10 {
		t.Fatalf("unexpected file: %+v", f)
	}
}

func TestDeleteFile(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+files\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("f-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteFile(context.Background(), "f-1"); err != nil {
		t.Fatalf("DeleteFile error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
