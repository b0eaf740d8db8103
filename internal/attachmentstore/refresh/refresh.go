// Package refresh is the URL Refresh Layer (spec.md §4.C): expiry
// detection plus the three-step escalation (bulk refresh, then JIT lookups
// against the primary and, if configured, secondary channel) with
// persistence back into the metadata index.
package refresh

import (
	"context"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"go.uber.org/zap"
)

// Layer ties the object-store adapter to the metadata index so refreshed
// URLs are durably persisted on the chunk row.
type Layer struct {
	adapter *attachmentstore.Adapter
	store   *index.Store
}

func New(adapter *attachmentstore.Adapter, store *index.Store) *Layer {
	return &Layer{adapter: adapter, store: store}
}

// Resolve returns the stored URL when it is valid for at least margin beyond
// now, and otherwise refreshes and persists it. Failures at each escalation
// step are logged and non-fatal; if every step fails the stored URL is
// returned unchanged. The
// caller decides whether the ultimately-returned (possibly still stale) URL
// is good enough to attempt a fetch with.
func (l *Layer) Resolve(ctx context.Context, chunk models.Chunk, margin time.Duration) (string, error) {
	if !attachmentstore.Expired(chunk.URL, margin, time.Now()) {
		return chunk.URL, nil
	}

	// Step 1: bulk refresh through the adapter.
	if chunk.URL != "" {
		if refreshed, err := l.adapter.RefreshURLs(ctx, []string{chunk.URL}); err == nil && len(refreshed) == 1 && refreshed[0] != "" {
			l.persist(ctx, chunk, refreshed[0])
			return refreshed[0], nil
		} else if err != nil {
			logger.Warn("refresh: bulk refresh failed", zap.String("fileId", chunk.FileID), zap.Int("idx", chunk.Idx), zap.Error(err))
		}
	}

	// Step 2: JIT lookup via the primary channel.
	if url, err := l.adapter.GetAttachmentURL(ctx, l.adapter.PrimaryChannel(), chunk.MessageID); err == nil && url != "" {
		l.persist(ctx, chunk, url)
		return url, nil
	} else if err != nil {
		logger.Warn("refresh: primary JIT lookup failed", zap.String("fileId", chunk.FileID), zap.Int("idx", chunk.Idx), zap.Error(err))
	}

	// Step 3: JIT lookup via the secondary (backup) channel, if configured.
	if backup := l.adapter.BackupChannel(); backup != "" {
		if url, err := l.adapter.GetAttachmentURL(ctx, backup, chunk.MessageID); err == nil && url != "" {
			l.persist(ctx, chunk, url)
			return url, nil
		} else if err != nil {
			logger.Warn("refresh: secondary JIT lookup failed", zap.String("fileId", chunk.FileID), zap.Int("idx", chunk.Idx), zap.Error(err))
		}
	}

	// All escalation steps failed; return the stale URL and let the caller
	// decide whether to attempt it anyway.
	return chunk.URL, nil
}

func (l *Layer) persist(ctx context.Context, chunk models.Chunk, url string) {
	if err := l.store.UpdateChunkURL(ctx, chunk.FileID, chunk.Idx, url); err != nil {
		logger.Warn("refresh: failed to persist refreshed url", zap.String("fileId", chunk.FileID), zap.Int("idx", chunk.Idx), zap.Error(err))
	}
}
