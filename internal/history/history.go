// Package history records chat messages and answers the three history views:
// general, private between two users, and the merged view pushed on login.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/store"
)

// DefaultLimit bounds every history query when no limit is configured.
const DefaultLimit = 50

// Service wraps a MessageStore with the history rules of the chat.
type Service struct {
	store store.MessageStore
	limit int
	log   *zerolog.Logger
}

// NewService builds a history service. A non-positive limit selects DefaultLimit.
func NewService(st store.MessageStore, limit int, logger *zerolog.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l := logger.With().Str("component", "history").Logger()
	return &Service{store: st, limit: limit, log: &l}
}

// Limit returns the configured history bound.
func (s *Service) Limit() int {
	return s.limit
}

// SaveBroadcast persists a general message.
func (s *Service) SaveBroadcast(ctx context.Context, sender, body string, ts time.Time) (*store.Message, error) {
	msg, err := s.store.SaveMessage(ctx, &store.Message{Sender: sender, Body: body, CreatedAt: ts})
	if err != nil {
		s.log.Error().Err(err).Str("sender", sender).Msg("save broadcast failed")
		return nil, err
	}
	return msg, nil
}

// SavePrivate persists a private message as unread.
func (s *Service) SavePrivate(ctx context.Context, sender, recipient, body string, ts time.Time) (*store.Message, error) {
	msg, err := s.store.SaveMessage(ctx, &store.Message{Sender: sender, Recipient: recipient, Body: body, CreatedAt: ts})
	if err != nil {
		s.log.Error().Err(err).Str("sender", sender).Str("recipient", recipient).Msg("save private failed")
		return nil, err
	}
	return msg, nil
}

// General returns the newest general messages, oldest-first.
func (s *Service) General(ctx context.Context) ([]store.Message, error) {
	msgs, err := s.store.ListBroadcast(ctx, s.limit)
	if err != nil {
		s.log.Error().Err(err).Msg("general history failed")
		return nil, err
	}
	return msgs, nil
}

// Private returns the newest messages exchanged by a and b, oldest-first.
func (s *Service) Private(ctx context.Context, a, b string) ([]store.Message, error) {
	msgs, err := s.store.ListPrivateBetween(ctx, a, b, s.limit)
	if err != nil {
		s.log.Error().Err(err).Str("user", a).Str("other", b).Msg("private history failed")
		return nil, err
	}
	return msgs, nil
}

// Full merges general messages with every private message touching username.
func (s *Service) Full(ctx context.Context, username string) ([]store.Message, error) {
	general, err := s.store.ListBroadcast(ctx, s.limit)
	if err != nil {
		s.log.Error().Err(err).Str("user", username).Msg("full history failed")
		return nil, err
	}
	private, err := s.store.ListPrivateFor(ctx, username, s.limit)
	if err != nil {
		s.log.Error().Err(err).Str("user", username).Msg("full history failed")
		return nil, err
	}
	return Merge(general, private, s.limit), nil
}

// ClearBroadcast deletes every general message.
func (s *Service) ClearBroadcast(ctx context.Context) error {
	n, err := s.store.DeleteBroadcast(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("clear general history failed")
		return err
	}
	s.log.Info().Int64("deleted", n).Msg("general history cleared")
	return nil
}

// ClearForUser deletes username's private messages in both directions.
// General chat messages survive.
func (s *Service) ClearForUser(ctx context.Context, username string) error {
	n, err := s.store.DeleteForUser(ctx, username)
	if err != nil {
		s.log.Error().Err(err).Str("user", username).Msg("clear user history failed")
		return err
	}
	s.log.Info().Int64("deleted", n).Str("user", username).Msg("user history cleared")
	return nil
}

// MarkDelivered flags a private message as read after live delivery.
func (s *Service) MarkDelivered(ctx context.Context, id int64) {
	if err := s.store.MarkRead(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("message_id", id).Msg("mark read failed")
	}
}

// MarkAllRead flags every pending private message for recipient as read.
func (s *Service) MarkAllRead(ctx context.Context, recipient string) {
	n, err := s.store.MarkAllReadFor(ctx, recipient)
	if err != nil {
		s.log.Warn().Err(err).Str("user", recipient).Msg("mark all read failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int64("count", n).Str("user", recipient).Msg("pending private messages marked read")
	}
}

type dedupeKey struct {
	at   int64
	body string
}

// Merge combines two oldest-first sequences, drops entries sharing the same
// (timestamp, body), keeps the newest limit entries and returns them oldest-first.
func Merge(a, b []store.Message, limit int) []store.Message {
	all := make([]store.Message, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)

	// Newest first so truncation keeps the most recent entries.
	sort.SliceStable(all, func(i, j int) bool {
		return newer(all[i], all[j])
	})

	seen := make(map[dedupeKey]struct{}, len(all))
	out := all[:0]
	for _, m := range all {
		k := dedupeKey{at: m.CreatedAt.UnixNano(), body: m.Body}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func newer(a, b store.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
