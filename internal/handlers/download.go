package handlers

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/foxrun/chandrive/internal/download"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// DownloadHandlers groups the download engine's endpoints (spec.md §4.E,
// §6).
type DownloadHandlers struct {
	engine *download.Engine
	store  *index.Store
}

func NewDownloadHandlers(engine *download.Engine, store *index.Store) *DownloadHandlers {
	return &DownloadHandlers{engine: engine, store: store}
}

// Download handles GET /download/:id[?index=N][?start_chunk=K][?inline=true].
func (h *DownloadHandlers) Download(c *gin.Context) {
	fileID := c.Param("id")

	if idxStr := c.Query("index"); idxStr != "" {
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			xerr.Fail(c, xerr.New(xerr.CodeValidation, xerr.ErrValidation))
			return
		}
		h.proxyChunk(c, fileID, idx)
		return
	}

	h.streamFull(c, fileID)
}

func (h *DownloadHandlers) proxyChunk(c *gin.Context, fileID string, idx int) {
	body, size, err := h.engine.ProxyChunk(c.Request.Context(), fileID, idx)
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Length", strconv.FormatInt(size, 10))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", "attachment")
	c.Status(200)
	_, _ = io.Copy(c.Writer, body)
}

func (h *DownloadHandlers) streamFull(c *gin.Context, fileID string) {
	ctx := c.Request.Context()
	f, err := h.store.GetFile(ctx, fileID)
	if err != nil {
		xerr.Fail(c, xerr.New(xerr.CodeNotFound, xerr.ErrNotFound))
		return
	}
	chunks, err := h.store.GetChunks(ctx, fileID)
	if err != nil {
		xerr.Fail(c, xerr.New(xerr.CodeInternal, xerr.ErrInternal))
		return
	}

	startChunk, _ := strconv.Atoi(c.Query("start_chunk"))
	var total int64
	for _, ch := range chunks {
		if ch.Idx >= startChunk {
			total += ch.Size
		}
	}

	disposition := "attachment"
	if inline, _ := strconv.ParseBool(c.Query("inline")); inline {
		disposition = "inline"
	}

	c.Header("Content-Length", strconv.FormatInt(total, 10))
	c.Header("Content-Disposition", fmt.Sprintf(`%s; filename*=UTF-8''%s`, disposition, url.PathEscape(f.Name)))
	c.Header("Cache-Control", "no-store")
	c.Status(200)

	if err := h.engine.StreamFullFile(ctx, fileID, startChunk, c.Writer); err != nil {
		// Headers are already flushed; nothing more to do beyond logging,
		// which the engine already performs for upstream failures.
		return
	}
}
