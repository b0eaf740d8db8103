// Package backup implements the circular backup protocol (spec.md §4.G):
// snapshot the raw index file to the backup channel, pruning prior
// marker-prefixed snapshots first so the channel holds only the newest.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// markerPrefix tags snapshot messages so the circular prune can find them
// among other traffic in the backup channel.
const markerPrefix = "[chandrive-backup]"

const recentScanLimit = 10

// Protocol runs the on-demand and post-Finalize snapshot.
type Protocol struct {
	adapter   *attachmentstore.Adapter
	indexPath string
}

func New(adapter *attachmentstore.Adapter, indexPath string) *Protocol {
	return &Protocol{adapter: adapter, indexPath: indexPath}
}

// TriggerAsync fires a snapshot in the background; errors are logged and
// swallowed (spec.md §4.G "errors are logged and swallowed"). It satisfies
// upload.BackupTrigger.
func (p *Protocol) TriggerAsync() {
	go func() {
		if err := p.Run(context.Background()); err != nil {
			logger.Warn("backup: async snapshot failed", zap.Error(err))
		}
	}()
}

// Run performs one synchronous snapshot: prune, then upload (spec.md §4.G).
func (p *Protocol) Run(ctx context.Context) error {
	backupChannel := p.adapter.BackupChannel()
	if backupChannel == "" {
		return fmt.Errorf("backup: no backup channel configured")
	}

	p.pruneRecentSnapshots(ctx, backupChannel)

	data, err := os.ReadFile(p.indexPath)
	if err != nil {
		return fmt.Errorf("backup: failed to read index file: %w", err)
	}

	content := fmt.Sprintf("%s %s", markerPrefix, time.Now().UTC().Format(time.RFC3339))
	// A unique filename per snapshot avoids CDN caching a stale body under a
	// name the backup channel has seen before.
	filename := fmt.Sprintf("neko.db.snapshot-%s", uuid.NewString())
	_, err = p.adapter.PostSnapshot(ctx, backupChannel, content, filename, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("backup: failed to upload snapshot: %w", err)
	}

	logger.Info("backup: snapshot uploaded", zap.Int("bytes", len(data)))
	return nil
}

// pruneRecentSnapshots lists the last recentScanLimit messages in the
// backup channel and deletes those carrying the marker prefix.
func (p *Protocol) pruneRecentSnapshots(ctx context.Context, channelID string) {
	msgs, err := p.adapter.ListRecentMessages(ctx, channelID, recentScanLimit)
	if err != nil {
		logger.Warn("backup: failed to list recent snapshots", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if !strings.HasPrefix(m.Content, markerPrefix) {
			continue
		}
		if err := p.adapter.DeleteMessage(ctx, channelID, m.ID); err != nil {
			logger.Warn("backup: failed to prune old snapshot", zap.String("messageId", m.ID), zap.Error(err))
		}
	}
}
