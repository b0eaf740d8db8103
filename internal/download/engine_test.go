package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/attachmentstore/refresh"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshChunkURL(srv *httptest.Server, idx int) string {
	return fmt.Sprintf("%s/blobs/%d?ex=7fffffff", srv.URL, idx)
}

func newTestEngine(t *testing.T, cdn http.HandlerFunc) (*Engine, *index.Store, *httptest.Server) {
	t.Helper()
	cdnSrv := httptest.NewServer(cdn)
	t.Cleanup(cdnSrv.Close)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError) // refresh calls fail, so a retry reuses the stored URL
	}))
	t.Cleanup(apiSrv.Close)

	client := attachmentstore.NewClient(apiSrv.URL, "tok", 5*time.Second)
	adapter := attachmentstore.NewAdapter(client, "primary", "")

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := index.Open(path)
	require.NoError(t, err)
	store := index.New(db)

	layer := refresh.New(adapter, store)
	return New(store, layer), store, cdnSrv
}

func TestProxyChunk_StreamsBody(t *testing.T) {
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("chunk-body"))
	})

	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 10}))
	require.NoError(t, store.PutChunk(ctx, "a", 0, "m1", "primary", 10, freshChunkURL(cdn, 0)))

	body, size, err := e.ProxyChunk(ctx, "a", 0)
	require.NoError(t, err)
	defer body.Close()
	assert.EqualValues(t, 10, size)

	var buf bytes.Buffer
	buf.ReadFrom(body)
	assert.Equal(t, "chunk-body", buf.String())
}

func TestProxyChunk_MissingIndexReturnsNotFound(t *testing.T) {
	e, store, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 10}))

	_, _, err := e.ProxyChunk(ctx, "a", 5)
	assert.Error(t, err)
}

func TestFetchChunk_RetriesOnForbiddenThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ctx := context.Background()
	chunk := models.Chunk{FileID: "a", Idx: 0, MessageID: "m1", ChannelID: "primary", Size: 2, URL: freshChunkURL(cdn, 0)}
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 2}))

	body, _, err := e.fetchChunk(ctx, chunk, 0)
	require.NoError(t, err)
	defer body.Close()
	assert.EqualValues(t, 2, calls.Load())
}

func TestStreamFullFile_WritesChunksInOrder(t *testing.T) {
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var idx int
		fmt.Sscanf(r.URL.Path, "/blobs/%d", &idx)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "part-%d", idx)
	})

	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 30}))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.PutChunk(ctx, "a", i, fmt.Sprintf("m%d", i), "primary", 6, freshChunkURL(cdn, i)))
	}

	var buf bytes.Buffer
	require.NoError(t, e.StreamFullFile(ctx, "a", 0, &buf))
	assert.Equal(t, "part-0part-1part-2part-3part-4", buf.String())
}

func TestStreamFullFile_RespectsStartChunk(t *testing.T) {
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var idx int
		fmt.Sscanf(r.URL.Path, "/blobs/%d", &idx)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "part-%d", idx)
	})

	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 20}))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.PutChunk(ctx, "a", i, fmt.Sprintf("m%d", i), "primary", 6, freshChunkURL(cdn, i)))
	}

	var buf bytes.Buffer
	require.NoError(t, e.StreamFullFile(ctx, "a", 1, &buf))
	assert.Equal(t, "part-1part-2", buf.String())
}
