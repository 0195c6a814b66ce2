// Package attachments stores files exchanged with FILE and PRIVATE_FILE.
// Metadata goes to the FileStore, payloads to a BlobStore.
package attachments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/store"
	"github.com/vovakirdan/linechat-server/internal/utils"
)

// DefaultMaxBytes caps decoded attachment size.
const DefaultMaxBytes = 10 * 1024 * 1024

var (
	// ErrTooLarge is returned when a decoded payload exceeds the size limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrInvalidPayload is returned when a payload is not valid base64.
	ErrInvalidPayload = errors.New("invalid attachment payload")
	// ErrNotFound is returned for unknown files and files the viewer may not read.
	ErrNotFound = errors.New("attachment not found")
)

// Service validates, stores and retrieves attachments.
type Service struct {
	files    store.FileStore
	blobs    BlobStore
	maxBytes int64
	log      *zerolog.Logger
}

// NewService builds an attachment service. A non-positive maxBytes selects DefaultMaxBytes.
func NewService(files store.FileStore, blobs BlobStore, maxBytes int64, logger *zerolog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	l := logger.With().Str("component", "attachments").Logger()
	return &Service{files: files, blobs: blobs, maxBytes: maxBytes, log: &l}
}

// Upload decodes payload and stores it. An empty recipient shares the file with everyone.
func (s *Service) Upload(ctx context.Context, sender, recipient, name, payload string, ts time.Time) (*store.File, error) {
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > s.maxBytes+2 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	f := &store.File{
		ID:        utils.NewID(),
		Sender:    sender,
		Recipient: recipient,
		Name:      name,
		Size:      int64(len(data)),
		CreatedAt: ts.UTC(),
	}
	if err := s.blobs.Put(ctx, StorageKey(f), data); err != nil {
		s.log.Error().Err(err).Str("file_id", f.ID).Msg("store attachment payload failed")
		return nil, err
	}
	if err := s.files.SaveFile(ctx, f); err != nil {
		s.log.Error().Err(err).Str("file_id", f.ID).Msg("store attachment metadata failed")
		if derr := s.blobs.Delete(ctx, StorageKey(f)); derr != nil {
			s.log.Warn().Err(derr).Str("file_id", f.ID).Msg("drop orphaned payload failed")
		}
		return nil, err
	}

	s.log.Info().Str("file_id", f.ID).Str("sender", sender).Str("recipient", recipient).Int64("size", f.Size).Msg("attachment stored")
	return f, nil
}

// Discard removes an uploaded file whose transfer could not be completed.
// Both the payload and the metadata are deleted.
func (s *Service) Discard(ctx context.Context, f *store.File) error {
	blobErr := s.blobs.Delete(ctx, StorageKey(f))
	fileErr := s.files.DeleteFile(ctx, f.ID)
	if err := errors.Join(blobErr, fileErr); err != nil {
		s.log.Error().Err(err).Str("file_id", f.ID).Msg("discard attachment failed")
		return err
	}
	s.log.Info().Str("file_id", f.ID).Msg("attachment discarded")
	return nil
}

// Fetch returns a file and its base64 payload if viewer may read it.
func (s *Service) Fetch(ctx context.Context, viewer, id string) (*store.File, string, error) {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	if f.Recipient != "" && viewer != f.Sender && viewer != f.Recipient {
		return nil, "", ErrNotFound
	}

	data, err := s.blobs.Get(ctx, StorageKey(f))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return f, base64.StdEncoding.EncodeToString(data), nil
}

// StorageKey places payloads under a per-day prefix.
func StorageKey(f *store.File) string {
	d := f.CreatedAt.UTC()
	return fmt.Sprintf("files/%d/%02d/%02d/%s", d.Year(), d.Month(), d.Day(), f.ID)
}

// HistoryBody is the text recorded in history for a file transfer.
func HistoryBody(f *store.File) string {
	return fmt.Sprintf("[archivo:%s] %s", f.ID, f.Name)
}
