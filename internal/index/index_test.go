package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foxrun/chandrive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	return New(db)
}

func TestCreateFile_ConflictOnActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &models.File{ID: "a", Name: "t.txt", Size: 10}
	require.NoError(t, s.CreateFile(ctx, f))
	require.NoError(t, s.SetStatus(ctx, "a", models.StatusActive))

	err := s.CreateFile(ctx, &models.File{ID: "a", Name: "t2.txt", Size: 20})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateFile_ReplacesPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "first.txt", Size: 10}))
	require.NoError(t, s.PutChunk(ctx, "a", 0, "msg1", "chan1", 10, "https://x/1"))

	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "second.txt", Size: 5}))

	f, err := s.GetFile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second.txt", f.Name)
	assert.Equal(t, models.StatusPending, f.Status)

	chunks, err := s.GetChunks(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestPutChunk_OverwritesSameIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))

	require.NoError(t, s.PutChunk(ctx, "a", 0, "msg1", "chan1", 10, "https://x/1"))
	require.NoError(t, s.PutChunk(ctx, "a", 0, "msg2", "chan1", 20, "https://x/2"))

	chunks, err := s.GetChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "msg2", chunks[0].MessageID)
	assert.EqualValues(t, 20, chunks[0].Size)
}

func TestSearchFiles_PrefixMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "vacation photo.png", Size: 1}))
	require.NoError(t, s.SetStatus(ctx, "a", models.StatusActive))
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "b", Name: "invoice.pdf", Size: 1}))
	require.NoError(t, s.SetStatus(ctx, "b", models.StatusActive))

	results, err := s.SearchFiles(ctx, "vacat", models.StatusActive)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSearchFiles_SanitizesEmbeddedQuotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: `weird "name" file.txt`, Size: 1}))
	require.NoError(t, s.SetStatus(ctx, "a", models.StatusActive))

	// An embedded quote in the query must not break out of its FTS token.
	results, err := s.SearchFiles(ctx, `weird "name`, models.StatusActive)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDeleteFile_CascadesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))
	require.NoError(t, s.PutChunk(ctx, "a", 0, "msg1", "chan1", 10, "https://x/1"))

	require.NoError(t, s.DeleteFile(ctx, "a"))

	_, err := s.GetFile(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats_CountsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "a", Name: "t.txt", Size: 10}))
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "b", Name: "u.txt", Size: 5}))
	require.NoError(t, s.SetStatus(ctx, "b", models.StatusActive))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Active)
	assert.EqualValues(t, 5, stats.TotalBytes)
}
