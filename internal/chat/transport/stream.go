package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kong/agentchat/internal/chat/event"
)

const (
	defaultScannerCapacity = 1024 * 1024 // 1 MiB buffer for large SSE payloads
	eventBuffer            = 64
)

// Status is the connection state of a Subscription.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Subscription is a long-lived event stream. It reconnects with exponential
// backoff until Close is called or its context ends, and emits a synthetic
// connection-lost error event whenever an established connection drops.
type Subscription struct {
	events  chan event.Event
	changes chan Status
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status Status
}

// Subscribe opens the event stream for conversationID, or for every
// conversation when it is empty. The subscription must be released with Close.
func (c *Client) Subscribe(ctx context.Context, conversationID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events:  make(chan event.Event, eventBuffer),
		changes: make(chan Status, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  StatusDisconnected,
	}
	go s.run(ctx, c, strings.TrimSpace(conversationID))
	return s
}

// Events delivers decoded events in arrival order. The channel is closed once
// the subscription has been released.
func (s *Subscription) Events() <-chan event.Event {
	return s.events
}

// Status returns the current connection state.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusChanges delivers the latest connection state whenever it changes.
// Intermediate states may be skipped by slow readers.
func (s *Subscription) StatusChanges() <-chan Status {
	return s.changes
}

// Close stops the reconnect loop and waits for the stream goroutine to exit.
// It is safe to call more than once.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == st {
		return
	}
	s.status = st
	select {
	case <-s.changes:
	default:
	}
	s.changes <- st
}

func (s *Subscription) emit(ctx context.Context, evt event.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.events <- evt:
		return nil
	}
}

func (s *Subscription) run(ctx context.Context, c *Client, conversationID string) {
	defer func() {
		s.setStatus(StatusDisconnected)
		close(s.changes)
		close(s.events)
		close(s.done)
	}()

	delay := c.initialDelay
	for {
		s.setStatus(StatusConnecting)
		connected, err := c.streamOnce(ctx, conversationID, s)
		if ctx.Err() != nil {
			logDebug(ctx, "chat stream released")
			return
		}

		if connected {
			delay = c.initialDelay
			reason := "stream closed by server"
			if err != nil {
				reason = err.Error()
			}
			if emitErr := s.emit(ctx, event.ConnectionLost(reason)); emitErr != nil {
				return
			}
		}
		s.setStatus(StatusDisconnected)

		attrs := []slog.Attr{slog.Duration("retry_in", delay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logWarn(ctx, "chat stream disconnected", attrs...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, c.maxDelay)
	}
}

// streamOnce holds a single connection open until it ends. connected reports
// whether the server accepted the subscription.
func (c *Client) streamOnce(ctx context.Context, conversationID string, s *Subscription) (bool, error) {
	endpoint, err := url.JoinPath(c.baseURL, streamPathSegment)
	if err != nil {
		return false, fmt.Errorf("failed to construct stream endpoint: %w", err)
	}
	if conversationID != "" {
		endpoint += "?" + url.Values{"conversationId": {conversationID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	logDebug(ctx, "chat stream request", slog.String("endpoint", endpoint))

	resp, err := c.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to open stream: %w", wrapIfTransient(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		body := truncateSnippet(strings.TrimSpace(string(snippet)), 512)
		logError(ctx, "chat stream unexpected status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("snippet", body))
		return false, &HTTPError{
			Method:     http.MethodGet,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	s.setStatus(StatusConnected)
	logInfo(ctx, "chat stream established", slog.String("endpoint", endpoint))

	err = decodeSSE(ctx, resp.Body, func(f frame) error {
		evt, err := event.Decode(f.Event, []byte(f.Data))
		if err != nil {
			logTrace(ctx, "chat stream dropped frame",
				slog.String("event", f.Event),
				slog.String("error", err.Error()))
			return nil
		}
		logTrace(ctx, "chat stream event", slog.String("type", string(evt.Type)))
		return s.emit(ctx, evt)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return true, wrapIfTransient(err)
	}
	return true, err
}

// frame is one raw server-sent event.
type frame struct {
	Event string
	Data  string
}

func decodeSSE(ctx context.Context, r io.Reader, onFrame func(frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScannerCapacity)

	var (
		currentEvent string
		dataLines    []string
	)

	flush := func() error {
		if currentEvent == "" && len(dataLines) == 0 {
			return nil
		}
		f := frame{Event: currentEvent, Data: strings.Join(dataLines, "\n")}
		currentEvent = ""
		dataLines = dataLines[:0]
		return onFrame(f)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line[len("data:"):], " "))
		case line == "data":
			// a field name without a colon carries an empty value
			dataLines = append(dataLines, "")
		default:
			// id, retry and unknown fields
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return flush()
}
