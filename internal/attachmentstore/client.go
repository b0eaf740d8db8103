// Package attachmentstore is the object-store adapter (spec.md §4.B): it
// talks to the chat service's attachment API that moonlights as our chunk
// backend. No ecosystem client models a bot-token chat-message REST API, so
// the low-level transport here is a small stdlib net/http + mime/multipart
// client (see DESIGN.md).
package attachmentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/foxrun/chandrive/internal/pkg/logger"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"go.uber.org/zap"
)

// Client is the thin transport layer against the attachment backend's REST
// API. It never touches the metadata index; Adapter does.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Attachment mirrors the subset of the backend's message-attachment shape
// this system cares about.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
}

// Message is the subset of the backend's message shape this system reads.
type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// postMultipart sends a single-file multipart message-create request,
// optionally with a text content field alongside the attachment (used by
// the backup protocol's marker-prefixed snapshot messages), and returns the
// decoded message.
func (c *Client) postMultipart(ctx context.Context, channelID, filename, content string, r io.Reader) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return nil, fmt.Errorf("attachmentstore: failed to write content field: %w", err)
		}
	}
	part, err := w.CreateFormFile("files[0]", filename)
	if err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to stage chunk body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/channels/"+channelID+"/messages", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return c.doMessage(req)
}

func (c *Client) doMessage(req *http.Request) (*Message, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachmentstore: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("attachmentstore: non-2xx response", zap.Int("status", resp.StatusCode), zap.String("body", string(body)))
		return nil, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: status %d", xerr.ErrUpstream, resp.StatusCode))
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to decode response: %w", err)
	}
	return &msg, nil
}

func (c *Client) getMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/channels/"+channelID+"/messages/"+messageID, nil, "")
	if err != nil {
		return nil, err
	}
	return c.doMessage(req)
}

func (c *Client) deleteMessage(ctx context.Context, channelID, messageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, "")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("attachmentstore: delete request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: delete status %d", xerr.ErrUpstream, resp.StatusCode))
	}
	return nil
}

// bulkDeleteMessages calls the backend's batch delete endpoint. The caller
// guarantees len(ids) is between 2 and 100 per the backend's own limits.
func (c *Client) bulkDeleteMessages(ctx context.Context, channelID string, ids []string) error {
	payload, _ := json.Marshal(map[string][]string{"messages": ids})
	req, err := c.newRequest(ctx, http.MethodPost, "/channels/"+channelID+"/messages/bulk-delete", bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("attachmentstore: bulk delete request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: bulk-delete status %d", xerr.ErrUpstream, resp.StatusCode))
	}
	return nil
}

// refreshAttachmentURLs calls the backend's URL-refresh endpoint for up to
// 50 URLs at a time and returns a parallel array of refreshed URLs.
func (c *Client) refreshAttachmentURLs(ctx context.Context, urls []string) ([]string, error) {
	payload, _ := json.Marshal(map[string][]string{"attachment_urls": urls})
	req, err := c.newRequest(ctx, http.MethodPost, "/attachments/refresh-urls", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachmentstore: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: refresh status %d", xerr.ErrUpstream, resp.StatusCode))
	}

	var out struct {
		RefreshedURLs []struct {
			Original string `json:"original"`
			Refreshed string `json:"refreshed"`
		} `json:"refreshed_urls"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to decode refresh response: %w", err)
	}

	result := make([]string, len(urls))
	for i, u := range urls {
		result[i] = u
		for _, r := range out.RefreshedURLs {
			if r.Original == u {
				result[i] = r.Refreshed
				break
			}
		}
	}
	return result, nil
}

// listRecentMessages lists the most recent messages in a channel (used by
// the backup protocol's circular prune).
func (c *Client) listRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachmentstore: list messages failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: list status %d", xerr.ErrUpstream, resp.StatusCode))
	}
	var msgs []Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("attachmentstore: failed to decode message list: %w", err)
	}
	return msgs, nil
}

// ping is a cheap call used by Health (spec.md §6 GET /system/health).
func (c *Client) ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodGet, "/users/@me", nil, "")
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("attachmentstore: ping failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	latency := time.Since(start)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, xerr.New(xerr.CodeUpstream, fmt.Errorf("%w: ping status %d", xerr.ErrUpstream, resp.StatusCode))
	}
	return latency, nil
}
