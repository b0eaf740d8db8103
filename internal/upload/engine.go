// Package upload implements the upload engine (spec.md §4.D): the
// Init/Chunk-Upload/Finalize/Abort state machine, idempotent chunk
// overwrite, and abort-race orphan cleanup. Background cleanup is
// fire-and-forget goroutines spawned directly from engine methods, not a
// durable broker (spec.md §5) — the teacher's queue/worker machinery
// (internal/pkg/mq) has nothing to attach to here and is dropped; see
// DESIGN.md.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"go.uber.org/zap"
)

var (
	ErrAborted = errors.New("upload session no longer pending")
)

// objectStore is the subset of *attachmentstore.Adapter the upload engine
// needs, narrowed to an interface so tests can substitute a fake.
type objectStore interface {
	Upload(ctx context.Context, filename string, blob io.Reader, size int64) (*attachmentstore.UploadResult, error)
	DeleteOne(ctx context.Context, channelID, messageID string) error
	BulkDelete(ctx context.Context, channelID string, messageIDs []string)
	PrimaryChannel() string
}

// Engine wires the metadata index to the object-store adapter.
type Engine struct {
	store   *index.Store
	adapter objectStore
	backup  BackupTrigger
}

// BackupTrigger is the narrow hook Finalize uses to schedule a background
// snapshot without importing the backup package directly; tests pass nil
// to skip backups.
type BackupTrigger interface {
	TriggerAsync()
}

func New(store *index.Store, adapter *attachmentstore.Adapter, backup BackupTrigger) *Engine {
	return &Engine{store: store, adapter: adapter, backup: backup}
}

// newWithStore is used by tests to inject a fake objectStore.
func newWithStore(store *index.Store, adapter objectStore, backup BackupTrigger) *Engine {
	return &Engine{store: store, adapter: adapter, backup: backup}
}

// InitRequest mirrors POST /upload/file/init's body (spec.md §6).
type InitRequest struct {
	ID   string
	Name string
	Size uint64
	Type string
	IV   string
	Salt string
}

// Init creates or replaces a pending file (spec.md §4.D Init).
func (e *Engine) Init(ctx context.Context, req InitRequest) (*models.File, error) {
	if req.ID == "" || req.Name == "" {
		return nil, xerr.New(xerr.CodeValidation, xerr.ErrValidation)
	}

	f := &models.File{
		ID:   req.ID,
		Name: req.Name,
		Size: req.Size,
		Type: req.Type,
		IV:   req.IV,
		Salt: req.Salt,
	}
	if err := e.store.CreateFile(ctx, f); err != nil {
		if errors.Is(err, index.ErrConflict) {
			return nil, xerr.New(xerr.CodeConflict, fmt.Errorf("%w: file %s is active", xerr.ErrConflict, req.ID))
		}
		logger.Error("upload: init failed", zap.String("fileId", req.ID), zap.Error(err))
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	return f, nil
}

// ResolveChunkIndex implements the index-resolution rule from spec.md §4.D
// / §9: prefer X-Chunk-Number (1-based); else divide Content-Range's start
// offset by chunk 0's size (anchored, requires chunk 0 already uploaded);
// else 0. Returns an error for the ambiguous case the spec's redesign note
// flags: a nonzero Content-Range start with no chunk 0 on record yet.
func (e *Engine) ResolveChunkIndex(ctx context.Context, fileID, chunkNumberHeader, contentRangeHeader string) (int, error) {
	if chunkNumberHeader != "" {
		n, err := strconv.Atoi(chunkNumberHeader)
		if err != nil || n < 1 {
			return 0, xerr.New(xerr.CodeValidation, fmt.Errorf("%w: invalid X-Chunk-Number", xerr.ErrValidation))
		}
		return n - 1, nil
	}

	if contentRangeHeader != "" {
		start, err := parseContentRangeStart(contentRangeHeader)
		if err != nil {
			return 0, xerr.New(xerr.CodeValidation, fmt.Errorf("%w: invalid Content-Range", xerr.ErrValidation))
		}
		if start == 0 {
			return 0, nil
		}
		chunks, err := e.store.GetChunks(ctx, fileID)
		if err != nil {
			return 0, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
		}
		var chunk0Size int64
		found := false
		for _, c := range chunks {
			if c.Idx == 0 {
				chunk0Size = c.Size
				found = true
				break
			}
		}
		if !found || chunk0Size == 0 {
			// spec.md §9 redesign: refuse to guess instead of defaulting to 0.
			return 0, xerr.New(xerr.CodeValidation, fmt.Errorf("%w: chunk 0 required before Content-Range resolution", xerr.ErrValidation))
		}
		return int(start / chunk0Size), nil
	}

	return 0, nil
}

// parseContentRangeStart extracts the start offset from a byte Content-Range
// header of the form "bytes start-end/total".
func parseContentRangeStart(header string) (int64, error) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, fmt.Errorf("missing bytes prefix")
	}
	rest := strings.TrimPrefix(header, prefix)
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return 0, fmt.Errorf("missing range separator")
	}
	return strconv.ParseInt(rest[:dash], 10, 64)
}

// ChunkUpload implements spec.md §4.D Chunk-Upload: idempotent overwrite,
// upload-then-recheck ordering so a concurrent Abort can't leak external
// records.
func (e *Engine) ChunkUpload(ctx context.Context, fileID string, idx int, body io.Reader, filename string, size int64) (string, error) {
	if size <= 0 {
		return "", xerr.New(xerr.CodeValidation, fmt.Errorf("%w: empty chunk body", xerr.ErrValidation))
	}

	f, err := e.store.GetFile(ctx, fileID)
	if err != nil || f.Status != models.StatusPending {
		return "", xerr.New(xerr.CodeNotFound, fmt.Errorf("%w: upload session %s", ErrAborted, fileID))
	}

	existing, err := e.store.GetChunks(ctx, fileID)
	if err != nil {
		return "", xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	var priorChannelID, priorMessageID string
	var hadPrior bool
	for _, c := range existing {
		if c.Idx == idx {
			priorChannelID, priorMessageID = c.ChannelID, c.MessageID
			hadPrior = true
			break
		}
	}

	result, err := e.adapter.Upload(ctx, filename, body, size)
	if err != nil {
		return "", err
	}

	// Recheck: the upload may have raced an Abort. The prior chunk row (if
	// any) is left untouched so it still points at a live message.
	f, err = e.store.GetFile(ctx, fileID)
	if err != nil || f.Status != models.StatusPending {
		e.scheduleDelete(result.ChannelID, result.MessageID)
		return "", xerr.New(xerr.CodeNotFound, fmt.Errorf("%w: upload session %s", ErrAborted, fileID))
	}

	if err := e.store.PutChunk(ctx, fileID, idx, result.MessageID, result.ChannelID, result.Size, result.URL); err != nil {
		logger.Error("upload: failed to persist chunk", zap.String("fileId", fileID), zap.Int("idx", idx), zap.Error(err))
		return "", xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	// The new row now owns idx; only now is the prior message safe to
	// delete, since a failed upload or aborted recheck above left it as the
	// still-referenced record.
	if hadPrior {
		e.scheduleDelete(priorChannelID, priorMessageID)
	}
	return result.MessageID, nil
}

// Finalize marks a file active, compacts the index, and unless skipBackup
// schedules a background snapshot (spec.md §4.D Finalize).
func (e *Engine) Finalize(ctx context.Context, fileID string, skipBackup bool) error {
	if _, err := e.store.GetFile(ctx, fileID); err != nil {
		return xerr.New(xerr.CodeNotFound, xerr.ErrNotFound)
	}
	if err := e.store.SetStatus(ctx, fileID, models.StatusActive); err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	if err := e.store.Vacuum(ctx); err != nil {
		logger.Warn("upload: vacuum failed after finalize", zap.String("fileId", fileID), zap.Error(err))
	}
	if !skipBackup && e.backup != nil {
		e.backup.TriggerAsync()
	}
	return nil
}

// Abort collects a pending file's chunk message ids, deletes the file row,
// and schedules their bulk deletion (spec.md §4.D Abort). Safe to call
// repeatedly.
func (e *Engine) Abort(ctx context.Context, fileID string) error {
	f, err := e.store.GetFile(ctx, fileID)
	if err != nil {
		return nil // already gone: idempotent no-op.
	}
	if f.Status != models.StatusPending {
		return xerr.New(xerr.CodeConflict, fmt.Errorf("%w: file %s is not pending", xerr.ErrConflict, fileID))
	}

	chunks, err := e.store.GetChunks(ctx, fileID)
	if err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	if err := e.store.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, index.ErrNotFound) {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}

	e.scheduleBulkDelete(chunks)
	return nil
}

// BulkPurgePending purges every pending file and schedules deletion of
// their chunks' external records (spec.md §4.D Bulk-Purge-Pending).
func (e *Engine) BulkPurgePending(ctx context.Context) error {
	messageIDs, err := e.store.PendingMessageIDs(ctx)
	if err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	if err := e.store.DeleteAllPending(ctx); err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	if len(messageIDs) > 0 {
		go e.adapter.BulkDelete(context.Background(), e.adapter.PrimaryChannel(), messageIDs)
	}
	return nil
}

// DiscoverChunks returns the sorted list of stored indices so a resuming
// client knows where to pick up (spec.md §4.D Discover-Chunks).
func (e *Engine) DiscoverChunks(ctx context.Context, fileID string) ([]int, error) {
	chunks, err := e.store.GetChunks(ctx, fileID)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	idxs := make([]int, len(chunks))
	for i, c := range chunks {
		idxs[i] = c.Idx
	}
	return idxs, nil
}

func (e *Engine) scheduleDelete(channelID, messageID string) {
	go func() {
		if err := e.adapter.DeleteOne(context.Background(), channelID, messageID); err != nil {
			logger.Warn("upload: orphan cleanup failed", zap.String("messageId", messageID), zap.Error(err))
		}
	}()
}

func (e *Engine) scheduleBulkDelete(chunks []models.Chunk) {
	if len(chunks) == 0 {
		return
	}
	byChannel := map[string][]string{}
	for _, c := range chunks {
		byChannel[c.ChannelID] = append(byChannel[c.ChannelID], c.MessageID)
	}
	for channelID, ids := range byChannel {
		go e.adapter.BulkDelete(context.Background(), channelID, ids)
	}
}
