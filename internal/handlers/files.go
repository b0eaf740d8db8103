package handlers

import (
	"strconv"

	"github.com/foxrun/chandrive/internal/files"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// FileHandlers groups the /files lifecycle endpoints (spec.md §6).
type FileHandlers struct {
	svc *files.Service
}

func NewFileHandlers(svc *files.Service) *FileHandlers {
	return &FileHandlers{svc: svc}
}

// List handles GET /files?status=active|trashed&limit&offset.
func (h *FileHandlers) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	res, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"files": res.Files, "total": res.Total})
}

// Search handles GET /files/search?q=&status=.
func (h *FileHandlers) Search(c *gin.Context) {
	results, err := h.svc.Search(c.Request.Context(), c.Query("q"), c.Query("status"))
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, results)
}

// Get handles GET /files/:id.
func (h *FileHandlers) Get(c *gin.Context) {
	f, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, f)
}

// Restore handles POST /files/:id/restore.
func (h *FileHandlers) Restore(c *gin.Context) {
	if err := h.svc.Restore(c.Request.Context(), c.Param("id")); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "active"})
}

// Delete handles DELETE /files/:id.
func (h *FileHandlers) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "deleted"})
}

// EmptyTrash handles DELETE /files/trash.
func (h *FileHandlers) EmptyTrash(c *gin.Context) {
	if err := h.svc.EmptyTrash(c.Request.Context()); err != nil {
		xerr.Fail(c, err)
		return
	}
	xerr.Success(c, 200, gin.H{"status": "emptied"})
}
