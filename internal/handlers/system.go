package handlers

import (
	"runtime"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/backup"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// Version is overridable at build time via -ldflags.
var Version = "dev"

// SystemHandlers groups GET /system/health, GET /system/stats, and
// POST /system/backup (spec.md §6).
type SystemHandlers struct {
	store     *index.Store
	adapter   *attachmentstore.Adapter
	backup    *backup.Protocol
	indexPath string
	startedAt time.Time
}

func NewSystemHandlers(store *index.Store, adapter *attachmentstore.Adapter, backupProtocol *backup.Protocol, indexPath string) *SystemHandlers {
	return &SystemHandlers{store: store, adapter: adapter, backup: backupProtocol, indexPath: indexPath, startedAt: time.Now()}
}

// Health handles GET /system/health.
func (h *SystemHandlers) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := true
	if _, err := h.store.Stats(ctx); err != nil {
		dbHealthy = false
	}

	snapshot := h.adapter.Health(ctx)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	xerr.Success(c, 200, gin.H{
		"database": gin.H{"healthy": dbHealthy},
		"discord": gin.H{
			"healthy":   snapshot.Healthy,
			"latencyMs": snapshot.Latency.Milliseconds(),
		},
		"uptimeSeconds": time.Since(h.startedAt).Seconds(),
		"memory": gin.H{
			"allocBytes":    mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":      mem.Sys,
		},
		"version": Version,
	})
}

// Stats handles GET /system/stats.
func (h *SystemHandlers) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		xerr.Fail(c, err)
		return
	}

	indexSize, sizeErr := index.FileSizeBytes(h.indexPath)
	if sizeErr != nil {
		indexSize = 0
	}

	xerr.Success(c, 200, gin.H{
		"active":        stats.Active,
		"trashed":       stats.Trashed,
		"pending":       stats.Pending,
		"totalBytes":    stats.TotalBytes,
		"indexFileBytes": indexSize,
	})
}

// Backup handles POST /system/backup. It blocks synchronously, unlike the
// fire-and-forget snapshot scheduled after Finalize (spec.md §9 open
// question: an explicit trigger gets a real answer, not a 202).
func (h *SystemHandlers) Backup(c *gin.Context) {
	if err := h.backup.Run(c.Request.Context()); err != nil {
		xerr.Fail(c, xerr.New(xerr.CodeUpstream, err))
		return
	}
	xerr.Success(c, 200, gin.H{"status": "backed up"})
}
