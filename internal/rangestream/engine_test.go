package rangestream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/attachmentstore/refresh"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cdn http.HandlerFunc) (*Engine, *index.Store, *httptest.Server) {
	t.Helper()
	cdnSrv := httptest.NewServer(cdn)
	t.Cleanup(cdnSrv.Close)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
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

func freshURL(srv *httptest.Server, idx int) string {
	return fmt.Sprintf("%s/blobs/%d?ex=7fffffff", srv.URL, idx)
}

// Three chunks of size 10, 10, 10 (bytes 0-9, 10-19, 20-29).
func seedThreeChunks(t *testing.T, store *index.Store, cdn *httptest.Server) {
	ctx := context.Background()
	require.NoError(t, store.CreateFile(ctx, &models.File{ID: "a", Name: "t", Size: 30}))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.PutChunk(ctx, "a", i, fmt.Sprintf("m%d", i), "primary", 10, freshURL(cdn, i)))
	}
}

func TestServe_LocatesChunkContainingStart(t *testing.T) {
	var gotRange string
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("xy"))
	})
	seedThreeChunks(t, store, cdn)

	// Global byte 15 falls in chunk 1 (bytes 10-19), local offset 5.
	res, err := e.Serve(context.Background(), "a", 15, 16)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "bytes=5-6", gotRange)
	assert.EqualValues(t, 15, res.GlobalStart)
	assert.EqualValues(t, 16, res.GlobalEnd)
	assert.EqualValues(t, 2, res.ActualLength)
	assert.EqualValues(t, 30, res.TotalSize)
}

func TestServe_ClampsToChunkBoundary(t *testing.T) {
	var gotRange string
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123"))
	})
	seedThreeChunks(t, store, cdn)

	// Request spans past the end of chunk 0 (bytes 0-9); must clamp to it.
	res, err := e.Serve(context.Background(), "a", 6, 25)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "bytes=6-9", gotRange)
	assert.EqualValues(t, 4, res.ActualLength)
	assert.EqualValues(t, 9, res.GlobalEnd)
}

func TestServe_StartBeyondFileIsNotSatisfiable(t *testing.T) {
	e, store, cdn := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for an out-of-range start")
	})
	seedThreeChunks(t, store, cdn)

	_, err := e.Serve(context.Background(), "a", 999, 1000)
	assert.Error(t, err)
}

func TestServe_UnknownFileIsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := e.Serve(context.Background(), "missing", 0, 1)
	assert.Error(t, err)
}
