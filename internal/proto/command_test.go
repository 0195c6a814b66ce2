package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"LOGIN:alice:secret1", Command{Kind: KindLogin, User: "alice", Password: "secret1"}},
		{"LOGIN:alice:secret1:", Command{Kind: KindLogin, User: "alice", Password: "secret1"}},
		{"LOGIN:carol:pw:\r", Command{Kind: KindLogin, User: "carol", Password: "pw"}},
		{"REGISTER:bob:hunter2", Command{Kind: KindRegister, User: "bob", Password: "hunter2"}},
		{"MESSAGE:hello room", Command{Kind: KindMessage, Body: "hello room"}},
		{"MESSAGE:a:b:c", Command{Kind: KindMessage, Body: "a:b:c"}},
		{"PRIVATE:bob:secret note", Command{Kind: KindPrivate, Target: "bob", Body: "secret note"}},
		{"PRIVATE:bob:time is 12:30", Command{Kind: KindPrivate, Target: "bob", Body: "time is 12:30"}},
		{"FILE:cat.png:aGVsbG8=", Command{Kind: KindFile, FileName: "cat.png", Payload: "aGVsbG8="}},
		{"PRIVATE_FILE:bob:cat.png:aGVsbG8=", Command{Kind: KindPrivateFile, Target: "bob", FileName: "cat.png", Payload: "aGVsbG8="}},
		{"GET_FILE:abc-123", Command{Kind: KindGetFile, FileID: "abc-123"}},
		{"GET_USERS", Command{Kind: KindGetUsers}},
		{"GET_PRIVATE_HISTORY:bob", Command{Kind: KindGetPrivateHistory, Target: "bob"}},
		{"GET_GENERAL_HISTORY", Command{Kind: KindGetGeneralHistory}},
		{"CLEAR_GENERAL", Command{Kind: KindClearGeneral}},
		{"CLEAR_PRIVATE:bob", Command{Kind: KindClearPrivate, Target: "bob"}},
		{"LOGOUT", Command{Kind: KindLogout}},
		{"LOGOUT:alice", Command{Kind: KindLogout}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		line string
		kind Kind
	}{
		{"LOGIN:alice", KindLogin},
		{"LOGIN:alice:", KindLogin},
		{"LOGIN::secret", KindLogin},
		{"LOGIN:a:b:c", KindLogin},
		{"REGISTER:", KindRegister},
		{"MESSAGE:", KindMessage},
		{"PRIVATE:bob", KindPrivate},
		{"PRIVATE::hi", KindPrivate},
		{"PRIVATE:bob:", KindPrivate},
		{"FILE:cat.png", KindFile},
		{"PRIVATE_FILE:bob:cat.png", KindPrivateFile},
		{"GET_FILE:", KindGetFile},
		{"GET_PRIVATE_HISTORY:", KindGetPrivateHistory},
		{"CLEAR_PRIVATE:a:b", KindClearPrivate},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse(tt.line)
			require.ErrorIs(t, err, ErrMalformed)

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
		})
	}
}

func TestParse_Unknown(t *testing.T) {
	for _, line := range []string{"", "HELLO", "get_users", "GET_USERS:x", "NOPE:1", "CLEAR_GENERAL "} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrUnknownCommand, "line %q", line)
	}
}
