package proto

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a client command.
type Kind string

// Client commands.
const (
	KindLogin             Kind = "LOGIN"
	KindRegister          Kind = "REGISTER"
	KindMessage           Kind = "MESSAGE"
	KindPrivate           Kind = "PRIVATE"
	KindFile              Kind = "FILE"
	KindPrivateFile       Kind = "PRIVATE_FILE"
	KindGetFile           Kind = "GET_FILE"
	KindGetUsers          Kind = "GET_USERS"
	KindGetPrivateHistory Kind = "GET_PRIVATE_HISTORY"
	KindGetGeneralHistory Kind = "GET_GENERAL_HISTORY"
	KindClearGeneral      Kind = "CLEAR_GENERAL"
	KindClearPrivate      Kind = "CLEAR_PRIVATE"
	KindLogout            Kind = "LOGOUT"
)

var (
	// ErrUnknownCommand is returned for lines that match no command prefix.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed is wrapped by every FormatError.
	ErrMalformed = errors.New("malformed command")
)

// FormatError reports a known command whose arguments could not be parsed.
type FormatError struct {
	Kind Kind
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s command", e.Kind)
}

func (e *FormatError) Unwrap() error {
	return ErrMalformed
}

// Command is a parsed client line. Only the fields relevant to Kind are set.
type Command struct {
	Kind     Kind
	User     string // LOGIN, REGISTER
	Password string // LOGIN, REGISTER
	Target   string // recipient or other party
	Body     string // MESSAGE, PRIVATE
	FileName string // FILE, PRIVATE_FILE
	Payload  string // base64 file content
	FileID   string // GET_FILE
}

// Parse decodes one protocol line (without the trailing newline).
func Parse(line string) (Command, error) {
	line = strings.TrimSuffix(line, "\r")

	// Bare commands first; LOGOUT also accepts a trailing ":<user>".
	switch line {
	case string(KindGetUsers):
		return Command{Kind: KindGetUsers}, nil
	case string(KindGetGeneralHistory):
		return Command{Kind: KindGetGeneralHistory}, nil
	case string(KindClearGeneral):
		return Command{Kind: KindClearGeneral}, nil
	case string(KindLogout):
		return Command{Kind: KindLogout}, nil
	}

	name, rest, found := strings.Cut(line, ":")
	if !found {
		return Command{}, ErrUnknownCommand
	}
	kind := Kind(name)

	switch kind {
	case KindLogin, KindRegister:
		user, pass, ok := parseCredentials(rest)
		if !ok {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, User: user, Password: pass}, nil

	case KindMessage:
		if rest == "" {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, Body: rest}, nil

	case KindPrivate:
		recipient, body, ok := strings.Cut(rest, ":")
		if !ok || recipient == "" || body == "" {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, Target: recipient, Body: body}, nil

	case KindFile:
		name, payload, ok := strings.Cut(rest, ":")
		if !ok || name == "" || payload == "" {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, FileName: name, Payload: payload}, nil

	case KindPrivateFile:
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, Target: parts[0], FileName: parts[1], Payload: parts[2]}, nil

	case KindGetFile:
		if rest == "" {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, FileID: rest}, nil

	case KindGetPrivateHistory, KindClearPrivate:
		if rest == "" || strings.Contains(rest, ":") {
			return Command{}, &FormatError{Kind: kind}
		}
		return Command{Kind: kind, Target: rest}, nil

	case KindLogout:
		return Command{Kind: KindLogout}, nil
	}

	return Command{}, ErrUnknownCommand
}

// parseCredentials splits "<user>:<pass>" and tolerates one trailing empty field,
// which some clients append.
func parseCredentials(rest string) (string, string, bool) {
	parts := strings.Split(rest, ":")
	if len(parts) == 3 && parts[2] == "" {
		parts = parts[:2]
	}
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
