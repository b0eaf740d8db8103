package handlers

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/foxrun/chandrive/internal/rangestream"
	"github.com/gin-gonic/gin"
)

// StreamHandlers groups the range stream engine's endpoint (spec.md §4.F).
type StreamHandlers struct {
	engine *rangestream.Engine
	store  *index.Store
}

func NewStreamHandlers(engine *rangestream.Engine, store *index.Store) *StreamHandlers {
	return &StreamHandlers{engine: engine, store: store}
}

// Stream handles GET /stream/file/:id with an optional Range header.
func (h *StreamHandlers) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	fileID := c.Param("id")

	f, err := h.store.GetFile(ctx, fileID)
	if err != nil {
		xerr.Fail(c, xerr.New(xerr.CodeNotFound, xerr.ErrNotFound))
		return
	}

	start, end, err := parseRange(c.GetHeader("Range"), int64(f.Size))
	if err != nil {
		xerr.Fail(c, xerr.New(xerr.CodeRangeNotSatisfiable, xerr.ErrRangeNotSatisfiable))
		return
	}

	result, err := h.engine.Serve(ctx, fileID, start, end)
	if err != nil {
		xerr.Fail(c, err)
		return
	}
	defer result.Body.Close()

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", result.GlobalStart, result.GlobalEnd, result.TotalSize))
	c.Header("Content-Length", strconv.FormatInt(result.ActualLength, 10))
	c.Status(206)
	_, _ = io.Copy(c.Writer, result.Body)
}

// parseRange parses a "bytes=start-end" header, defaulting to the whole
// file when absent (spec.md §4.F step 1).
func parseRange(header string, size int64) (int64, int64, error) {
	if header == "" {
		return 0, size - 1, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	parts := strings.SplitN(strings.TrimPrefix(header, prefix), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range")
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("invalid range start")
	}

	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("invalid range end")
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, nil
}
