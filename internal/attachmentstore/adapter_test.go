package attachmentstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "test-token", 5*time.Second)
	return NewAdapter(client, "primary-channel", "backup-channel"), srv
}

func TestUpload_ReturnsAttachmentFromResponse(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/primary-channel/messages", r.URL.Path)
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Message{
			ID:          "msg-1",
			Attachments: []Attachment{{ID: "att-1", URL: "https://cdn/att-1?ex=abc", Size: 42}},
		})
	})

	result, err := a.Upload(context.Background(), "file.part0", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.Equal(t, "primary-channel", result.ChannelID)
	assert.EqualValues(t, 42, result.Size)
}

func TestBulkDelete_SingleIDUsesDeleteOne(t *testing.T) {
	var hitBulk, hitDelete atomic.Bool
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "bulk-delete"):
			hitBulk.Store(true)
		case r.Method == http.MethodDelete:
			hitDelete.Store(true)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	a.BulkDelete(context.Background(), "chan1", []string{"only-one"})
	assert.True(t, hitDelete.Load())
	assert.False(t, hitBulk.Load())
}

func TestBulkDelete_FallsBackToSinglesOnBatchFailure(t *testing.T) {
	var singleDeletes sync.Map
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "bulk-delete"):
			w.WriteHeader(http.StatusBadRequest) // e.g. messages older than the cutoff
		case r.Method == http.MethodDelete:
			id := strings.TrimPrefix(r.URL.Path, "/channels/chan1/messages/")
			singleDeletes.Store(id, true)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	ids := []string{"m1", "m2", "m3"}
	a.BulkDelete(context.Background(), "chan1", ids)

	for _, id := range ids {
		_, ok := singleDeletes.Load(id)
		assert.True(t, ok, "expected fallback single-delete for %s", id)
	}
}

func TestHealth_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	snap1 := a.Health(context.Background())
	snap2 := a.Health(context.Background())
	assert.True(t, snap1.Healthy)
	assert.True(t, snap2.Healthy)
	assert.EqualValues(t, 1, calls.Load(), "second Health call within TTL must not hit the backend again")
}

func TestDeleteOne_TreatsNotFoundAsSuccess(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := a.DeleteOne(context.Background(), "chan1", "already-gone")
	assert.NoError(t, err)
}

func TestRefreshURLs_BatchesByFifty(t *testing.T) {
	var batchSizes []int
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AttachmentURLs []string `json:"attachment_urls"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		batchSizes = append(batchSizes, len(body.AttachmentURLs))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"refreshed_urls": []any{}})
	})

	urls := make([]string, 120)
	for i := range urls {
		urls[i] = "https://cdn/x"
	}
	_, err := a.RefreshURLs(context.Background(), urls)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 50, 20}, batchSizes)
}
