// Package files implements the file lifecycle operations exposed under
// /files (spec.md §6): listing, search, soft-delete/restore, and trash
// emptying. The upload/finalize/abort half of the lifecycle lives in
// internal/upload; this package owns everything after a file goes active.
package files

import (
	"context"
	"errors"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
)

// bulkDeleter is the subset of *attachmentstore.Adapter this package needs.
type bulkDeleter interface {
	BulkDelete(ctx context.Context, channelID string, messageIDs []string)
	PrimaryChannel() string
}

type Service struct {
	store   *index.Store
	adapter bulkDeleter
}

func NewService(store *index.Store, adapter *attachmentstore.Adapter) *Service {
	return &Service{store: store, adapter: adapter}
}

// ListResult carries paginated files plus the total matching count.
type ListResult struct {
	Files []models.File
	Total int64
}

// List handles GET /files (spec.md §6).
func (s *Service) List(ctx context.Context, status string, limit, offset int) (*ListResult, error) {
	status = normalizeStatus(status)
	items, total, err := s.store.ListFiles(ctx, status, limit, offset)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	return &ListResult{Files: items, Total: total}, nil
}

// Search handles GET /files/search (spec.md §6, §4.A).
func (s *Service) Search(ctx context.Context, query, status string) ([]models.File, error) {
	status = normalizeStatus(status)
	items, err := s.store.SearchFiles(ctx, query, status)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	return items, nil
}

// Get handles GET /files/:id, returning the file with its full chunk list.
func (s *Service) Get(ctx context.Context, id string) (*models.File, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, xerr.New(xerr.CodeNotFound, xerr.ErrNotFound)
	}
	chunks, err := s.store.GetChunks(ctx, id)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	f.Chunks = chunks
	return f, nil
}

// Restore handles POST /files/:id/restore: trashed -> active.
func (s *Service) Restore(ctx context.Context, id string) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return xerr.New(xerr.CodeNotFound, xerr.ErrNotFound)
	}
	if f.Status != models.StatusTrashed {
		return xerr.New(xerr.CodeConflict, xerr.ErrConflict)
	}
	if err := s.store.SetStatus(ctx, id, models.StatusActive); err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	return nil
}

// Delete handles DELETE /files/:id (spec.md §4.D, §8 idempotence property):
// active -> trashed on the first call; trashed -> permanently removed
// (with cleanup scheduled) on the second; 404 on any call after that.
func (s *Service) Delete(ctx context.Context, id string) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return xerr.New(xerr.CodeNotFound, xerr.ErrNotFound)
	}

	switch f.Status {
	case models.StatusActive:
		if err := s.store.SetStatus(ctx, id, models.StatusTrashed); err != nil {
			return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
		}
		return nil
	case models.StatusTrashed:
		chunks, err := s.store.GetChunks(ctx, id)
		if err != nil {
			return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
		}
		if err := s.store.DeleteFile(ctx, id); err != nil && !errors.Is(err, index.ErrNotFound) {
			return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
		}
		s.scheduleBulkDelete(chunks)
		return nil
	default:
		return xerr.New(xerr.CodeConflict, xerr.ErrConflict)
	}
}

// EmptyTrash handles DELETE /files/trash: permanently delete every trashed
// file and schedule cleanup of their chunks' external records.
func (s *Service) EmptyTrash(ctx context.Context) error {
	messageIDs, err := s.store.DeleteAllTrashed(ctx)
	if err != nil {
		return xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	if len(messageIDs) > 0 {
		go s.adapter.BulkDelete(context.Background(), s.adapter.PrimaryChannel(), messageIDs)
	}
	return nil
}

func (s *Service) scheduleBulkDelete(chunks []models.Chunk) {
	if len(chunks) == 0 {
		return
	}
	byChannel := map[string][]string{}
	for _, c := range chunks {
		byChannel[c.ChannelID] = append(byChannel[c.ChannelID], c.MessageID)
	}
	for channelID, ids := range byChannel {
		go s.adapter.BulkDelete(context.Background(), channelID, ids)
	}
}

func normalizeStatus(status string) string {
	if status == "" {
		return models.StatusActive
	}
	return status
}
