package handlers

import (
	"fmt"
	"strconv"

	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/foxrun/chandrive/internal/upload"
	"github.com/gin-gonic/gin"
)

// UploadHandlers groups the upload engine's HTTP endpoints (spec.md §6).
type UploadHandlers struct {
	engine    *upload.Engine
	chunkSize int64
}

// NewUploadHandlers wires chunkSize, the logical chunk size advertised to
// clients in the Init response (spec.md §6's download.logical_size), into
// the upload endpoints. The server itself tolerates any actual chunk size.
func NewUploadHandlers(engine *upload.Engine, chunkSize int64) *UploadHandlers {
	return &UploadHandlers{engine: engine, chunkSize: chunkSize}
}

type initRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
	Size uint64 `json:"size"`
	Type string `json:"type"`
	IV   string `json:"iv"`
	Salt string `json:"salt"`
}

// Init handles POST /upload/file/init.
func (h *UploadHandlers) Init(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.FailWithDetails(c, xerr.New(xerr.CodeValidation, xerr.ErrValidation), err.Error())
		return
	}

	f, err := h.engine.Init(c.Request.Context(), upload.InitRequest{
		ID: req.ID, Name: req.Name, Size: req.Size, Type: req.Type, IV: req.IV, Salt: req.Salt,
	})
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"file": f, "chunkSize": h.chunkSize})
}

// Chunk handles POST /upload/file/:id/chunk.
func (h *UploadHandlers) Chunk(c *gin.Context) {
	fileID := c.Param("id")

	idx, err := h.engine.ResolveChunkIndex(c.Request.Context(), fileID, c.GetHeader("X-Chunk-Number"), c.GetHeader("Content-Range"))
	if err != nil {
		xerr.Fail(c, err)
		return
	}

	size := c.Request.ContentLength
	if size <= 0 {
		xerr.Fail(c, xerr.New(xerr.CodeValidation, fmt.Errorf("%w: empty chunk body", xerr.ErrValidation)))
		return
	}

	filename := fmt.Sprintf("%s.part%d", fileID, idx)
	messageID, err := h.engine.ChunkUpload(c.Request.Context(), fileID, idx, c.Request.Body, filename, size)
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"messageId": messageID})
}

// Chunks handles GET /upload/file/:id/chunks.
func (h *UploadHandlers) Chunks(c *gin.Context) {
	idxs, err := h.engine.DiscoverChunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, idxs)
}

// Finalize handles POST /upload/file/:id/finalize.
func (h *UploadHandlers) Finalize(c *gin.Context) {
	skipBackup, _ := strconv.ParseBool(c.Query("skip_backup"))
	if err := h.engine.Finalize(c.Request.Context(), c.Param("id"), skipBackup); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "active"})
}

// Abort handles POST /upload/file/:id/abort.
func (h *UploadHandlers) Abort(c *gin.Context) {
	if err := h.engine.Abort(c.Request.Context(), c.Param("id")); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "aborted"})
}

// PurgePending handles DELETE /upload/file/pending/all.
func (h *UploadHandlers) PurgePending(c *gin.Context) {
	if err := h.engine.BulkPurgePending(c.Request.Context()); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "purged"})
}
