// Package api is the HTTP client for the backend surface the sync core
// consumes: conversation logs, message posting, review state, and export
// jobs. Push streams are not fetched here; StreamURL hands the subscription
// target to the stream manager.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agora-chat/agora/internal/model/chat"
)

// ErrNotFound covers plain 404 responses for resources that should exist.
var ErrNotFound = errors.New("api: not found")

type Client struct {
	baseURL    string
	streamPath string
	http       *http.Client
	header     http.Header
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		streamPath: "stream",
		http:       &http.Client{Timeout: 15 * time.Second},
		header:     make(http.Header),
	}
}

// SetHeader sets a header sent with every request, e.g. an auth token.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// SetHTTPClient replaces the underlying client. Test use.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// ListConversations fetches the room list.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var conversations []chat.Conversation
	if err := c.getJSON(ctx, "/conversations", &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// ListMessages fetches the persisted log for one conversation, in server
// order. This is the bulk-load source for the reconciler.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var messages []chat.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PostMessage submits a user turn and returns the server-confirmed message
// id. A push subscription to StreamURL(id) is expected to begin emitting
// after this returns.
func (c *Client) PostMessage(ctx context.Context, conversationID string, payload chat.RetryPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	copyHeader(req.Header, c.header)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var result struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode post response: %w", err)
	}
	if result.MessageID == "" {
		return "", errors.New("api: post response missing messageId")
	}
	return result.MessageID, nil
}

// SetStreamPath selects the push endpoint suffix. The SSE stream lives at
// .../stream, the websocket variant at .../ws.
func (c *Client) SetStreamPath(path string) {
	c.streamPath = strings.Trim(path, "/")
}

// StreamURL is the push-channel target for one message's generation stream.
func (c *Client) StreamURL(messageID string) string {
	return c.baseURL + "/messages/" + url.PathEscape(messageID) + "/" + c.streamPath
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	copyHeader(req.Header, c.header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("api: %s %s: status %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
