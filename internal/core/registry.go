package core

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/metrics"
	"github.com/vovakirdan/linechat-server/internal/proto"
)

// SessionInfo is a read-only view of a registered session.
type SessionInfo struct {
	Username    string    `json:"username"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry maps usernames to live sessions and enforces one session per user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	l := logger.With().Str("component", "registry").Logger()
	return &Registry{
		sessions: make(map[string]*Session),
		log:      &l,
	}
}

// Register binds s to its username unless that user already has a live session.
// On success every registered session, s included, receives the new user list.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.Username]; exists {
		return false
	}
	r.sessions[s.Username] = s
	metrics.ConnectedClients.Inc()

	r.log.Info().Str("user", s.Username).Str("remote", s.RemoteAddr).Int("online", len(r.sessions)).Msg("session registered")
	r.publishUsersLocked()
	return true
}

// Unregister removes username's session. Absent users are a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; !ok {
		return
	}
	r.removeLocked(username)
}

// UnregisterSession removes s only if it is still the session bound to its
// username, so a stale handler cannot evict a newer login.
func (r *Registry) UnregisterSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.Username]; !ok || cur != s {
		return
	}
	r.removeLocked(s.Username)
}

func (r *Registry) removeLocked(username string) {
	delete(r.sessions, username)
	metrics.ConnectedClients.Dec()

	r.log.Info().Str("user", username).Int("online", len(r.sessions)).Msg("session unregistered")
	r.publishUsersLocked()
}

// publishUsersLocked runs under the write lock so every session sees user
// lists in registration order. Send never blocks.
func (r *Registry) publishUsersLocked() {
	line := proto.UserList(r.namesLocked())
	for _, s := range r.sessions {
		s.Send(line)
	}
	metrics.DeliveriesTotal.WithLabelValues("userlist").Add(float64(len(r.sessions)))
}

// Broadcast queues line to every session except exclude and returns how many received it.
func (r *Registry) Broadcast(line, exclude string) int {
	delivered := 0
	for _, s := range r.snapshot() {
		if s.Username == exclude {
			continue
		}
		if s.Send(line) {
			delivered++
		}
	}
	metrics.DeliveriesTotal.WithLabelValues("broadcast").Add(float64(delivered))
	return delivered
}

// SendTo queues line to username. It reports false when the user is offline.
func (r *Registry) SendTo(username, line string) bool {
	r.mu.RLock()
	s, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.Send(line) {
		return false
	}
	metrics.DeliveriesTotal.WithLabelValues("private").Inc()
	return true
}

// ListUsers returns the connected usernames in alphabetical order.
func (r *Registry) ListUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// IsOnline reports whether username has a registered session.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[username]
	return ok
}

// Sessions describes every registered session, sorted by username.
func (r *Registry) Sessions() []SessionInfo {
	snap := r.snapshot()
	out := make([]SessionInfo, 0, len(snap))
	for _, s := range snap {
		out = append(out, SessionInfo{Username: s.Username, RemoteAddr: s.RemoteAddr, ConnectedAt: s.ConnectedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Kick closes username's connection. Its handler unregisters it on the way out.
func (r *Registry) Kick(username string) bool {
	r.mu.RLock()
	s, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.log.Info().Str("user", username).Msg("session kicked")
	s.Close()
	return true
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		s.Close()
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
