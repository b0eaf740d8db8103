// Package index implements the metadata index (spec.md §4.A): a
// single-writer embedded relational store with write-ahead logging that
// durably tracks files, their ordered chunks, and a lazy full-text search
// shadow index, all kept consistent by SQLite triggers.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrConflict is returned by CreateFile when an active file already exists
// with the requested id (spec.md §4.A).
var ErrConflict = errors.New("active file already exists")

// ErrNotFound is returned when a file lookup misses.
var ErrNotFound = errors.New("file not found")

// Store is the metadata index. Every public method is a single transaction;
// reads are non-blocking, writes are serialized by the single-writer pool
// configuration applied in Open.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateFile implements Init's persistence half (spec.md §4.D): it fails
// with ErrConflict if an active file with the same id exists, replaces a
// pending record with the same id (cascading its chunks), or inserts fresh.
func (s *Store) CreateFile(ctx context.Context, f *models.File) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.File
		err := tx.Where("id = ?", f.ID).First(&existing).Error
		switch {
		case err == nil && existing.Status == models.StatusActive:
			return ErrConflict
		case err == nil:
			// A pending (or, defensively, trashed) row with this id: replace it.
			if delErr := tx.Select("Chunks").Delete(&existing).Error; delErr != nil {
				return fmt.Errorf("index: failed to clear existing file: %w", delErr)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("index: failed to look up existing file: %w", err)
		}

		f.Status = models.StatusPending
		if err := tx.Create(f).Error; err != nil {
			return fmt.Errorf("index: failed to create file: %w", err)
		}
		return nil
	})
}

// ListFiles returns files of the given status ordered by createdAt
// descending, plus the total matching count (spec.md §4.A).
func (s *Store) ListFiles(ctx context.Context, status string, limit, offset int) ([]models.File, int64, error) {
	var files []models.File
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.File{}).Where("status = ?", status)
		if err := q.Count(&total).Error; err != nil {
			return fmt.Errorf("index: failed to count files: %w", err)
		}
		q = tx.Where("status = ?", status).Order("created_at DESC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if offset > 0 {
			q = q.Offset(offset)
		}
		if err := q.Find(&files).Error; err != nil {
			return fmt.Errorf("index: failed to list files: %w", err)
		}
		return nil
	})
	return files, total, err
}

// SearchFiles runs a prefix-match full-text search over file names,
// restricted to the given status (spec.md §4.A, §9 "Search sanitization").
func (s *Store) SearchFiles(ctx context.Context, query, status string) ([]models.File, error) {
	match := sanitizeFTSQuery(query)

	var ids []string
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT file_id FROM file_search WHERE file_search MATCH ? AND status = ?`,
		match, status,
	).Scan(&ids).Error
	if err != nil {
		logger.Error("index: FTS query failed", zap.Error(err), zap.String("query", query))
		return nil, fmt.Errorf("index: search failed: %w", err)
	}
	if len(ids) == 0 {
		return []models.File{}, nil
	}

	var files []models.File
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at DESC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("index: failed to load search results: %w", err)
	}
	return files, nil
}

// sanitizeFTSQuery wraps the whole query as a single literal FTS5 phrase
// token with embedded quotes doubled, then appends a trailing prefix
// wildcard, so arbitrary user input can never break out of the token.
func sanitizeFTSQuery(query string) string {
	escaped := strings.ReplaceAll(query, `"`, `""`)
	return `"` + escaped + `"*`
}

// GetFile returns a file by id, or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: failed to get file: %w", err)
	}
	return &f, nil
}

// GetChunks returns a file's chunks ordered by idx.
func (s *Store) GetChunks(ctx context.Context, fileID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Order("idx ASC").Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("index: failed to get chunks: %w", err)
	}
	return chunks, nil
}

// PutChunk overwrites any prior chunk at (fileID, idx) (spec.md §4.A, §3).
func (s *Store) PutChunk(ctx context.Context, fileID string, idx int, messageID, channelID string, size int64, url string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ? AND idx = ?", fileID, idx).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("index: failed to clear prior chunk: %w", err)
		}
		chunk := &models.Chunk{
			FileID:    fileID,
			Idx:       idx,
			MessageID: messageID,
			ChannelID: channelID,
			Size:      size,
			URL:       url,
		}
		if err := tx.Create(chunk).Error; err != nil {
			return fmt.Errorf("index: failed to insert chunk: %w", err)
		}
		return nil
	})
}

// UpdateChunkURL persists a refreshed CDN URL for one chunk without
// touching anything else (spec.md §4.C).
func (s *Store) UpdateChunkURL(ctx context.Context, fileID string, idx int, url string) error {
	err := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("file_id = ? AND idx = ?", fileID, idx).
		Update("url", url).Error
	if err != nil {
		return fmt.Errorf("index: failed to update chunk url: %w", err)
	}
	return nil
}

// SetStatus transitions a file's status (spec.md §4.D).
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res := s.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("index: failed to set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile destroys a file row, cascading to its chunks.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Select("Chunks").Delete(&models.File{ID: id})
	if res.Error != nil {
		return fmt.Errorf("index: failed to delete file: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Vacuum runs SQLite's index compaction (spec.md §4.D Finalize).
func (s *Store) Vacuum(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("index: vacuum failed: %w", err)
	}
	return nil
}

// Stats backs GET /system/stats (spec.md §6, supplemented in SPEC_FULL.md).
type Stats struct {
	Active     int64
	Trashed    int64
	Pending    int64
	TotalBytes int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts := []struct {
			status string
			dest   *int64
		}{
			{models.StatusActive, &stats.Active},
			{models.StatusTrashed, &stats.Trashed},
			{models.StatusPending, &stats.Pending},
		}
		for _, c := range counts {
			if err := tx.Model(&models.File{}).Where("status = ?", c.status).Count(c.dest).Error; err != nil {
				return err
			}
		}
		var total int64
		if err := tx.Model(&models.File{}).Where("status IN ?", []string{models.StatusActive, models.StatusTrashed}).
			Select("COALESCE(SUM(size), 0)").Scan(&total).Error; err != nil {
			return err
		}
		stats.TotalBytes = total
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("index: failed to compute stats: %w", err)
	}
	return stats, nil
}

// PendingMessageIDs supports Bulk-Purge-Pending
// (spec.md §4.D): collect every chunk's message id across all pending
// files before the files (and their chunk rows) are deleted.
func (s *Store) PendingMessageIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Joins("JOIN files ON files.id = chunks.file_id").
		Where("files.status = ?", models.StatusPending).
		Pluck("chunks.message_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("index: failed to collect pending message ids: %w", err)
	}
	return ids, nil
}

// DeleteAllPending removes every pending file (and cascades its chunks).
func (s *Store) DeleteAllPending(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.File{}).Where("status = ?", models.StatusPending).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("index: failed to collect pending files: %w", err)
		}
		for _, id := range ids {
			if err := tx.Select("Chunks").Delete(&models.File{ID: id}).Error; err != nil {
				return fmt.Errorf("index: failed to delete pending file %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteAllTrashed permanently deletes every trashed file and returns the
// message ids of their chunks for a bulk-delete sweep.
func (s *Store) DeleteAllTrashed(ctx context.Context) ([]string, error) {
	var messageIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.File{}).Where("status = ?", models.StatusTrashed).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("index: failed to collect trashed files: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.Chunk{}).Where("file_id IN ?", ids).Pluck("message_id", &messageIDs).Error; err != nil {
			return fmt.Errorf("index: failed to collect trashed chunk messages: %w", err)
		}
		for _, id := range ids {
			if err := tx.Select("Chunks").Delete(&models.File{ID: id}).Error; err != nil {
				return fmt.Errorf("index: failed to delete trashed file %s: %w", id, err)
			}
		}
		return nil
	})
	return messageIDs, err
}

// FileSizeBytes stats the on-disk index file for GET /system/stats.
func FileSizeBytes(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
