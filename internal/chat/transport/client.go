// Package transport talks to the chat server: it posts messages, cancels tasks
// and keeps a server-sent event subscription alive.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/meta"
)

const (
	messagesPathSegment = "chat/messages"
	tasksPathSegment    = "chat/tasks"
	streamPathSegment   = "chat/stream"

	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Options configure a Client.
type Options struct {
	BaseURL string
	Token   string
	// HTTPClient is used for request/response calls. The stream always uses a
	// copy without a timeout so a long-lived subscription is never cut short.
	HTTPClient   *http.Client
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Client is the HTTP + SSE adapter for the chat server.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	stream       *http.Client
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("base URL cannot be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", base)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	sc := *hc
	sc.Timeout = 0

	c := &Client{
		baseURL:      base,
		token:        strings.TrimSpace(opts.Token),
		http:         hc,
		stream:       &sc,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
	}
	if c.initialDelay <= 0 {
		c.initialDelay = DefaultInitialDelay
	}
	if c.maxDelay < c.initialDelay {
		c.maxDelay = max(DefaultMaxDelay, c.initialDelay)
	}
	return c, nil
}

type sendResponse struct {
	Success        *bool  `json:"success"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Error          string `json:"error"`
}

// SendMessage posts a user message and returns the ids the server assigned.
func (c *Client) SendMessage(ctx context.Context, in reducer.SendRequest) (reducer.SendResponse, error) {
	endpoint, err := url.JoinPath(c.baseURL, messagesPathSegment)
	if err != nil {
		return reducer.SendResponse{}, fmt.Errorf("failed to construct messages endpoint: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return reducer.SendResponse{}, fmt.Errorf("failed to encode message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return reducer.SendResponse{}, fmt.Errorf("failed to build message request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logDebug(ctx, "chat send request",
		slog.String("endpoint", endpoint),
		slog.Int("payload_bytes", len(body)),
		slog.String("conversation_id", in.ConversationID))

	raw, err := c.do(ctx, req, endpoint)
	if err != nil {
		return reducer.SendResponse{}, err
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return reducer.SendResponse{}, fmt.Errorf("failed to decode message response: %w", err)
	}
	if out.Success != nil && !*out.Success {
		detail := strings.TrimSpace(out.Error)
		if detail == "" {
			detail = truncateSnippet(strings.TrimSpace(string(raw)), 512)
		}
		return reducer.SendResponse{}, &HTTPError{
			Method:     http.MethodPost,
			Endpoint:   endpoint,
			StatusCode: http.StatusOK,
			Body:       detail,
		}
	}

	logInfo(ctx, "chat message accepted",
		slog.String("conversation_id", out.ConversationID),
		slog.String("message_id", out.MessageID))

	return reducer.SendResponse{
		ConversationID: out.ConversationID,
		MessageID:      out.MessageID,
	}, nil
}

// CancelTask asks the server to stop a running task. A false result with a nil
// error means the server answered but declined.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	if strings.TrimSpace(taskID) == "" {
		return false, errors.New("taskID cannot be empty")
	}

	endpoint, err := url.JoinPath(c.baseURL, tasksPathSegment, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to construct task endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build cancel request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	logDebug(ctx, "chat cancel request",
		slog.String("endpoint", endpoint),
		slog.String("task_id", taskID))

	raw, err := c.do(ctx, req, endpoint)
	if err != nil {
		return false, err
	}

	var out struct {
		Success bool `json:"success"`
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("failed to decode cancel response: %w", err)
	}

	logInfo(ctx, "chat cancel answered",
		slog.String("task_id", taskID),
		slog.Bool("success", out.Success))
	return out.Success, nil
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		err = wrapIfTransient(err)
		logError(ctx, "chat request failed",
			slog.String("method", req.Method),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to execute %s request: %w", strings.ToLower(req.Method), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", wrapIfTransient(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(raw))
		logError(ctx, "chat unexpected status",
			slog.String("method", req.Method),
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("snippet", truncateSnippet(snippet, 512)))
		return nil, &HTTPError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncateSnippet(snippet, 512),
		}
	}
	return raw, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", meta.CLIName)
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
