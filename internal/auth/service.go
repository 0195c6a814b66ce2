package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vovakirdan/linechat-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrReservedUsername is returned when registering the operator account over the chat protocol.
	ErrReservedUsername = errors.New("reserved username")
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 4
)

// Service provides credential operations on top of a UserStore.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	reserved  string
	dummyHash string
}

// NewService creates a new authentication service. reserved names the operator
// account that cannot be registered through Register.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, reserved string) *Service {
	// Compared against when the user is unknown so both paths cost one KDF run.
	dummy, _ := HashPassword("linechat-dummy-password")
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		reserved:  reserved,
		dummyHash: dummy,
	}
}

// Register validates and stores a new account with an argon2id password hash.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return err
	}
	if s.reserved != "" && username == s.reserved {
		return ErrReservedUsername
	}
	return s.create(ctx, username, password)
}

// EnsureUser creates username if it does not exist yet. Used to bootstrap the
// operator account from configuration.
func (s *Service) EnsureUser(ctx context.Context, username, password string) (bool, error) {
	exists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := validateCredentials(username, password); err != nil {
		return false, err
	}
	if err := s.create(ctx, username, password); err != nil {
		if errors.Is(err, ErrUserExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) create(ctx context.Context, username, password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}

	if _, err := s.store.CreateUser(ctx, username, hashedPassword); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Authenticate verifies a username/password pair. Unknown users and wrong
// passwords both yield ErrInvalidCredentials; storage faults are returned wrapped.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = ComparePassword(s.dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Exists reports whether username is registered.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.store.UserExists(ctx, username)
}

// Usernames lists every registered account.
func (s *Service) Usernames(ctx context.Context) ([]string, error) {
	return s.store.ListUsernames(ctx)
}

// Reserved returns the operator account name.
func (s *Service) Reserved() string {
	return s.reserved
}

// AdminLogin authenticates the operator account and returns a signed token.
func (s *Service) AdminLogin(ctx context.Context, username, password string) (string, error) {
	if s.reserved == "" || username != s.reserved {
		return "", ErrInvalidCredentials
	}
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func validateCredentials(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return ErrInvalidUsername
	}
	// ':' and ',' are protocol separators.
	if strings.ContainsAny(username, ":,") || strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return ErrInvalidUsername
	}
	if utf8.RuneCountInString(password) < minPasswordLen || strings.Contains(password, ":") {
		return ErrInvalidPassword
	}
	return nil
}
