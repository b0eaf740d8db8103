package attachmentstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/foxrun/chandrive/internal/pkg/logger"
	"go.uber.org/zap"
)

// Adapter is the object-store adapter (spec.md §4.B). It owns the primary
// write channel and an optional secondary channel used only as a URL-refresh
// fallback, and caches the backend's health for Health().
type Adapter struct {
	client          *Client
	primaryChannel  string
	backupChannel   string

	healthMu   sync.Mutex
	healthAt   time.Time
	healthErr  error
	healthLat  time.Duration
}

const healthTTL = 30 * time.Second

func NewAdapter(client *Client, primaryChannel, backupChannel string) *Adapter {
	return &Adapter{client: client, primaryChannel: primaryChannel, backupChannel: backupChannel}
}

// UploadResult is what the upload engine persists into a chunk row.
type UploadResult struct {
	MessageID string
	ChannelID string
	URL       string
	Size      int64
}

// Upload sends blob as a multipart attachment to the primary channel
// (spec.md §4.B upload).
func (a *Adapter) Upload(ctx context.Context, filename string, blob io.Reader, size int64) (*UploadResult, error) {
	msg, err := a.client.postMultipart(ctx, a.primaryChannel, filename, "", blob)
	if err != nil {
		return nil, err
	}
	if len(msg.Attachments) == 0 {
		return nil, fmt.Errorf("attachmentstore: upload response carried no attachment")
	}
	att := msg.Attachments[0]
	return &UploadResult{
		MessageID: msg.ID,
		ChannelID: a.primaryChannel,
		URL:       att.URL,
		Size:      att.Size,
	}, nil
}

// DeleteOne is a best-effort single delete (spec.md §4.B deleteOne).
func (a *Adapter) DeleteOne(ctx context.Context, channelID, messageID string) error {
	if err := a.client.deleteMessage(ctx, channelID, messageID); err != nil {
		logger.Warn("attachmentstore: deleteOne failed", zap.String("messageId", messageID), zap.Error(err))
		return err
	}
	return nil
}

// BulkDelete batches messageIds into groups of 100 and calls the bulk
// endpoint; any batch that comes back non-2xx (typically because it
// contains messages older than the backend's 14-day bulk-delete cutoff)
// falls back to concurrent single deletes, concurrency 5, with a 250ms
// pause between waves (spec.md §4.B bulkDelete).
func (a *Adapter) BulkDelete(ctx context.Context, channelID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	if len(messageIDs) == 1 {
		_ = a.DeleteOne(ctx, channelID, messageIDs[0])
		return
	}

	for i := 0; i < len(messageIDs); i += 100 {
		batch := messageIDs[i:min(i+100, len(messageIDs))]
		if len(batch) == 1 {
			_ = a.DeleteOne(ctx, channelID, batch[0])
			continue
		}
		if err := a.client.bulkDeleteMessages(ctx, channelID, batch); err != nil {
			logger.Warn("attachmentstore: bulk-delete batch failed, falling back to singles",
				zap.Int("batchSize", len(batch)), zap.Error(err))
			a.deleteSinglesWithBackoff(ctx, channelID, batch)
		}
	}
}

func (a *Adapter) deleteSinglesWithBackoff(ctx context.Context, channelID string, ids []string) {
	const concurrency = 5
	const pause = 250 * time.Millisecond

	for i := 0; i < len(ids); i += concurrency {
		wave := ids[i:min(i+concurrency, len(ids))]
		var wg sync.WaitGroup
		for _, id := range wave {
			wg.Add(1)
			go func(messageID string) {
				defer wg.Done()
				if err := a.client.deleteMessage(ctx, channelID, messageID); err != nil {
					logger.Warn("attachmentstore: fallback single delete failed", zap.String("messageId", messageID), zap.Error(err))
				}
			}(id)
		}
		wg.Wait()
		if i+concurrency < len(ids) {
			time.Sleep(pause)
		}
	}
}

// RefreshURLs batches up to 50 URLs per call to the refresh endpoint and
// returns a parallel array of refreshed URLs (spec.md §4.B refreshUrls).
func (a *Adapter) RefreshURLs(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	result := make([]string, 0, len(urls))
	for i := 0; i < len(urls); i += 50 {
		batch := urls[i:min(i+50, len(urls))]
		refreshed, err := a.client.refreshAttachmentURLs(ctx, batch)
		if err != nil {
			return nil, err
		}
		result = append(result, refreshed...)
	}
	return result, nil
}

// GetAttachmentURL does a JIT fetch of a single message to read its current
// attachment URL, trying the given channel (spec.md §4.B getAttachmentUrl).
func (a *Adapter) GetAttachmentURL(ctx context.Context, channelID, messageID string) (string, error) {
	msg, err := a.client.getMessage(ctx, channelID, messageID)
	if err != nil {
		return "", err
	}
	if len(msg.Attachments) == 0 {
		return "", fmt.Errorf("attachmentstore: message %s carries no attachment", messageID)
	}
	return msg.Attachments[0].URL, nil
}

// PrimaryChannel and BackupChannel expose the configured channel ids so the
// refresh escalation layer and backup protocol can pass them explicitly
// instead of mutating process environment (spec.md §9 redesign note).
func (a *Adapter) PrimaryChannel() string { return a.primaryChannel }
func (a *Adapter) BackupChannel() string  { return a.backupChannel }

// HealthSnapshot is what GET /system/health reports about the backend.
type HealthSnapshot struct {
	Healthy bool
	Latency time.Duration
	Err     error
}

// Health returns a cached snapshot of backend reachability, refreshing it
// at most once every 30s (spec.md §5 "cached... health snapshot").
func (a *Adapter) Health(ctx context.Context) HealthSnapshot {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()

	if time.Since(a.healthAt) < healthTTL {
		return HealthSnapshot{Healthy: a.healthErr == nil, Latency: a.healthLat, Err: a.healthErr}
	}

	latency, err := a.client.ping(ctx)
	a.healthAt = time.Now()
	a.healthLat = latency
	a.healthErr = err
	return HealthSnapshot{Healthy: err == nil, Latency: latency, Err: err}
}

// ListRecentMessages, PostSnapshot and DeleteMessage expose narrow client operations
// the backup protocol needs directly (not routed through the chunk-sized
// BulkDelete batching policy above).
func (a *Adapter) ListRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	return a.client.listRecentMessages(ctx, channelID, limit)
}

func (a *Adapter) PostSnapshot(ctx context.Context, channelID, content, filename string, blob io.Reader) (*Message, error) {
	return a.client.postMultipart(ctx, channelID, filename, content, blob)
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return a.client.deleteMessage(ctx, channelID, messageID)
}
