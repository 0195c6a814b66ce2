package attachments

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/store/sqlite"
)

func newTestService(t *testing.T, maxBytes int64) (*Service, *MemoryStore) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs := NewMemoryStore()
	logger := zerolog.Nop()
	return NewService(st, blobs, maxBytes, &logger), blobs
}

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUploadAndFetch_Broadcast(t *testing.T) {
	svc, blobs := newTestService(t, 0)
	ctx := context.Background()
	payload := base64.StdEncoding.EncodeToString([]byte("hello file"))

	f, err := svc.Upload(ctx, "alice", "", "note.txt", payload, ts)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.Size)
	assert.True(t, strings.HasPrefix(StorageKey(f), "files/2024/05/01/"))
	assert.Equal(t, "[archivo:"+f.ID+"] note.txt", HistoryBody(f))

	_, err = blobs.Get(ctx, StorageKey(f))
	require.NoError(t, err)

	got, data, err := svc.Fetch(ctx, "anyone", f.ID)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", got.Name)
	assert.Equal(t, payload, data)
}

func TestFetch_PrivateVisibility(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	payload := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	f, err := svc.Upload(ctx, "alice", "bob", "x.bin", payload, ts)
	require.NoError(t, err)

	for _, viewer := range []string{"alice", "bob"} {
		_, _, err := svc.Fetch(ctx, viewer, f.ID)
		assert.NoError(t, err, viewer)
	}
	_, _, err = svc.Fetch(ctx, "carol", f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = svc.Fetch(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpload_Rejections(t *testing.T) {
	svc, _ := newTestService(t, 4)
	ctx := context.Background()

	_, err := svc.Upload(ctx, "alice", "", "big", base64.StdEncoding.EncodeToString([]byte("12345")), ts)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Upload(ctx, "alice", "", "bad", "not base64!", ts)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = svc.Upload(ctx, "alice", "", "ok", base64.StdEncoding.EncodeToString([]byte("1234")), ts)
	assert.NoError(t, err)
}

type failingBlobs struct{}

func (failingBlobs) Put(context.Context, string, []byte) error { return errors.New("bucket gone") }
func (failingBlobs) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("bucket gone")
}
func (failingBlobs) Delete(context.Context, string) error { return errors.New("bucket gone") }

func TestUpload_BlobFailure(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()
	logger := zerolog.Nop()
	svc := NewService(st, failingBlobs{}, 0, &logger)

	_, err = svc.Upload(context.Background(), "alice", "", "a", base64.StdEncoding.EncodeToString([]byte("a")), ts)
	assert.Error(t, err)
}

func TestDiscard_RemovesPayloadAndMetadata(t *testing.T) {
	svc, blobs := newTestService(t, 0)
	ctx := context.Background()

	f, err := svc.Upload(ctx, "alice", "bob", "x.bin", base64.StdEncoding.EncodeToString([]byte("x")), ts)
	require.NoError(t, err)

	require.NoError(t, svc.Discard(ctx, f))

	_, err = blobs.Get(ctx, StorageKey(f))
	assert.ErrorIs(t, err, ErrBlobNotFound)
	_, _, err = svc.Fetch(ctx, "alice", f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Discarding twice is harmless.
	assert.NoError(t, svc.Discard(ctx, f))
}

func TestUpload_MetadataFailureDropsPayload(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	blobs := NewMemoryStore()
	logger := zerolog.Nop()
	svc := NewService(st, blobs, 0, &logger)

	_, err = svc.Upload(context.Background(), "alice", "", "a", base64.StdEncoding.EncodeToString([]byte("a")), ts)
	require.Error(t, err)

	blobs.mu.RLock()
	defer blobs.mu.RUnlock()
	assert.Empty(t, blobs.blobs)
}
