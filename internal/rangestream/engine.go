// Package rangestream implements the range stream engine (spec.md §4.F):
// a cumulative-offset walk that maps an HTTP Range request onto the single
// chunk containing its start byte.
package rangestream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foxrun/chandrive/internal/attachmentstore/refresh"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
)

// refreshMargin is the stricter range-stream refresh policy (spec.md §4.C).
const refreshMargin = 5 * time.Minute

// Engine serves single-chunk Range responses.
type Engine struct {
	store   *index.Store
	refresh *refresh.Layer
	http    *http.Client
}

func New(store *index.Store, refreshLayer *refresh.Layer) *Engine {
	return &Engine{store: store, refresh: refreshLayer, http: &http.Client{}}
}

// Result is what the handler needs to write the 206 response.
type Result struct {
	Body          io.ReadCloser
	GlobalStart   int64
	GlobalEnd     int64
	ActualLength  int64
	TotalSize     int64
}

// Serve implements spec.md §4.F steps 2-5: locate the chunk containing
// start, clamp the response to that chunk, refresh its URL under the
// stricter <5min policy, and issue a single upstream ranged fetch.
func (e *Engine) Serve(ctx context.Context, fileID string, start, end int64) (*Result, error) {
	f, err := e.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, xerr.New(xerr.CodeNotFound, xerr.ErrNotFound)
	}
	chunks, err := e.store.GetChunks(ctx, fileID)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}

	var cumulative int64
	var target *models.Chunk
	var chunkStart int64
	for i := range chunks {
		c := chunks[i]
		if cumulative <= start && start < cumulative+c.Size {
			target = &c
			chunkStart = cumulative
			break
		}
		cumulative += c.Size
	}
	if target == nil {
		return nil, xerr.New(xerr.CodeRangeNotSatisfiable, xerr.ErrRangeNotSatisfiable)
	}

	localStart := start - chunkStart
	requestSize := end - start + 1
	actualLength := requestSize
	if remaining := target.Size - localStart; actualLength > remaining {
		actualLength = remaining
	}
	localEnd := localStart + actualLength - 1
	globalEnd := start + actualLength - 1

	url, _ := e.refresh.Resolve(ctx, *target, refreshMargin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerr.New(xerr.CodeInternal, xerr.ErrInternal)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", localStart, localEnd))

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: %v", xerr.ErrUpstream, err))
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: upstream range status %d", xerr.ErrUpstream, resp.StatusCode))
	}

	return &Result{
		Body:         resp.Body,
		GlobalStart:  start,
		GlobalEnd:    globalEnd,
		ActualLength: actualLength,
		TotalSize:    int64(f.Size),
	}, nil
}
