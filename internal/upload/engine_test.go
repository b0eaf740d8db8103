package upload

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory objectStore fake for tests that don't
// need a real HTTP round trip.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int
	uploaded  []string
	deleted   []string
	bulkCalls [][]string
}

func (f *fakeStore) Upload(ctx context.Context, filename string, blob io.Reader, size int64) (*attachmentstore.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	body, _ := io.ReadAll(blob)
	id := filename + "#" + string(rune('0'+f.nextID))
	f.uploaded = append(f.uploaded, id)
	return &attachmentstore.UploadResult{MessageID: id, ChannelID: "chan1", URL: "https://x/" + id, Size: int64(len(body))}, nil
}

func (f *fakeStore) DeleteOne(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeStore) BulkDelete(ctx context.Context, channelID string, messageIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, messageIDs)
}

func (f *fakeStore) PrimaryChannel() string { return "chan1" }

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *index.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := index.Open(path)
	require.NoError(t, err)
	store := index.New(db)
	fs := &fakeStore{}
	return newWithStore(store, fs, nil), fs, store
}

func TestResolveChunkIndex_ExplicitHeader(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))

	idx, err := e.ResolveChunkIndex(ctx, "a", "3", "")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestResolveChunkIndex_ContentRangeWithoutChunk0(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))

	_, err := e.ResolveChunkIndex(ctx, "a", "", "bytes 8388608-16777215/20971520")
	assert.Error(t, err, "must reject ambiguous Content-Range resolution when chunk 0 is missing")
}

func TestResolveChunkIndex_ContentRangeWithChunk0(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))
	require.NoError(t, store.PutChunk(ctx, "a", 0, "msg0", "chan1", 1000, "https://x/0"))

	idx, err := e.ResolveChunkIndex(ctx, "a", "", "bytes 2000-2999/5000")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestChunkUpload_IdempotentOverwrite(t *testing.T) {
	e, fs, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))

	_, err := e.ChunkUpload(ctx, "a", 0, bytes.NewReader([]byte("first")), "a.part0", 5)
	require.NoError(t, err)
	_, err = e.ChunkUpload(ctx, "a", 0, bytes.NewReader([]byte("second-body")), "a.part0", 11)
	require.NoError(t, err)

	chunks, err := store.GetChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.EqualValues(t, 11, chunks[0].Size)
	assert.Len(t, fs.uploaded, 2, "both attempts should have uploaded externally")
}

func TestChunkUpload_RejectsAfterAbort(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))
	require.NoError(t, e.Abort(ctx, "a"))

	_, err := e.ChunkUpload(ctx, "a", 0, bytes.NewReader([]byte("data")), "a.part0", 4)
	assert.Error(t, err, "chunk upload must fail once the session is no longer pending")
}

func TestAbort_SchedulesBulkDeleteAndRemovesFile(t *testing.T) {
	e, fs, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))
	_, err := e.ChunkUpload(ctx, "a", 0, bytes.NewReader([]byte("data")), "a.part0", 4)
	require.NoError(t, err)

	require.NoError(t, e.Abort(ctx, "a"))

	_, err = store.GetFile(ctx, "a")
	assert.ErrorIs(t, err, index.ErrNotFound)

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.bulkCalls) == 1
	}, time.Second, 5*time.Millisecond, "abort must schedule a bulk delete of the orphaned chunk")
}

func TestAbort_Idempotent(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))

	require.NoError(t, e.Abort(ctx, "a"))
	require.NoError(t, e.Abort(ctx, "a"), "aborting an already-absent file must be a no-op, not an error")
}
