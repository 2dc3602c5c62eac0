// Package session drives a reducer from one goroutine. User intents, send
// results and stream events are queued and applied strictly in arrival order;
// the resulting state is published as snapshots.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/chat/transport"
	"github.com/kong/agentchat/internal/chat/validation"
)

var (
	// ErrBusy is returned by Submit and Retry while an exchange is in flight.
	ErrBusy = errors.New("a message is already being processed")
	// ErrNotRetryable is returned by Retry for messages that did not fail.
	ErrNotRetryable = errors.New("message cannot be retried")
	// ErrNoTask is returned by Cancel when no task is running.
	ErrNoTask = errors.New("no task is running")
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("session is closed")
)

// Stream is a live event subscription.
type Stream interface {
	Events() <-chan event.Event
	StatusChanges() <-chan transport.Status
	Close() error
}

// Transport is the chat server as seen by a session.
type Transport interface {
	SendMessage(ctx context.Context, req reducer.SendRequest) (reducer.SendResponse, error)
	CancelTask(ctx context.Context, taskID string) (bool, error)
	Subscribe(ctx context.Context, conversationID string) Stream
}

// Recorder receives every outbound send and every inbound event.
type Recorder interface {
	RecordSend(req reducer.SendRequest) error
	RecordSendResult(resp reducer.SendResponse, err error) error
	RecordEvent(evt event.Event) error
}

// Options configure a Controller.
type Options struct {
	Transport        Transport
	Validation       validation.Config
	WorkingDirectory string
	// RequestTimeout bounds each send and cancel call. Zero means no limit.
	RequestTimeout time.Duration
	Recorder       Recorder

	Now   func() time.Time
	NewID func() string
}

type request struct {
	fn   func(r *reducer.Reducer)
	done chan struct{}
}

// Controller owns a reducer and serialises every input to it. All methods are
// safe for concurrent use; Run must be running for intents to be processed.
type Controller struct {
	transport Transport
	recorder  Recorder
	rules     validation.Config
	timeout   time.Duration
	reducer   reducer.Options

	inbox   chan request
	updates chan reducer.Snapshot
	done    chan struct{}
	running atomic.Bool
	ctx     context.Context

	mu      sync.RWMutex
	snap    reducer.Snapshot
	conn    transport.Status
	changed chan struct{}
}

// New builds a Controller. It does nothing until Run is called.
func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	return &Controller{
		transport: opts.Transport,
		recorder:  opts.Recorder,
		rules:     opts.Validation,
		timeout:   opts.RequestTimeout,
		reducer: reducer.Options{
			WorkingDirectory: opts.WorkingDirectory,
			Now:              opts.Now,
			NewID:            opts.NewID,
		},
		inbox:   make(chan request),
		updates: make(chan reducer.Snapshot, 1),
		done:    make(chan struct{}),
		conn:    transport.StatusDisconnected,
		changed: make(chan struct{}),
	}, nil
}

// Run subscribes to the event stream and processes inputs until ctx ends. The
// subscription is released on every exit path. A Controller runs at most once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx

	r := reducer.New(c.reducer)
	stream := c.transport.Subscribe(ctx, "")
	defer func() {
		if err := stream.Close(); err != nil {
			logError(ctx, "failed to release chat stream", slog.String("error", err.Error()))
		}
	}()
	defer close(c.done)

	logDebug(ctx, "chat session started")
	c.publish(r)

	events := stream.Events()
	statuses := stream.StatusChanges()
	for {
		select {
		case <-ctx.Done():
			logDebug(ctx, "chat session stopped")
			return nil
		case req := <-c.inbox:
			req.fn(r)
			c.publish(r)
			if req.done != nil {
				close(req.done)
			}
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ctx, r, evt)
			c.publish(r)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			c.mu.Lock()
			c.conn = st
			c.mu.Unlock()
			c.publish(r)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, r *reducer.Reducer, evt event.Event) {
	if c.recorder != nil {
		if err := c.recorder.RecordEvent(evt); err != nil {
			logDebug(ctx, "failed to record event", slog.String("error", err.Error()))
		}
	}
	if conv := r.ConversationID(); conv != "" && evt.ConversationID != "" && evt.ConversationID != conv {
		logDebug(ctx, "dropped event for another conversation",
			slog.String("type", string(evt.Type)),
			slog.String("event_conversation_id", evt.ConversationID))
		return
	}
	r.Apply(evt)
}

// Submit validates content and, if the session is idle, sends it. Validation
// failures are returned as *validation.Error and never reach the server.
func (c *Controller) Submit(content string) error {
	res := validation.Validate(content, c.rules)
	if !res.Valid {
		return res.Error
	}

	var busy bool
	err := c.do(func(r *reducer.Reducer) {
		req, ok := r.Send(res.Sanitized)
		if !ok {
			busy = true
			return
		}
		c.dispatchSend(req)
	})
	if err != nil {
		return err
	}
	if busy {
		return ErrBusy
	}
	return nil
}

// Retry resends a message that previously failed.
func (c *Controller) Retry(messageID string) error {
	var outcome error
	err := c.do(func(r *reducer.Reducer) {
		if r.Phase() != reducer.PhaseIdle {
			outcome = ErrBusy
			return
		}
		req, ok := r.Retry(messageID)
		if !ok {
			outcome = ErrNotRetryable
			return
		}
		c.dispatchSend(req)
	})
	if err != nil {
		return err
	}
	return outcome
}

// Cancel asks the server to stop the running task. The exchange only ends when
// the server confirms with a task_cancelled event.
func (c *Controller) Cancel() error {
	var outcome error
	err := c.do(func(r *reducer.Reducer) {
		taskID, ok := r.Cancel()
		if !ok {
			outcome = ErrNoTask
			return
		}
		c.dispatchCancel(taskID)
	})
	if err != nil {
		return err
	}
	return outcome
}

// Clear resets the conversation.
func (c *Controller) Clear() error {
	return c.do(func(r *reducer.Reducer) { r.Clear() })
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() reducer.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Connection returns the latest stream connection status.
func (c *Controller) Connection() transport.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Updates delivers the latest snapshot after every change. Slow readers only
// see the most recent value.
func (c *Controller) Updates() <-chan reducer.Snapshot {
	return c.updates
}

// Done is closed when Run exits.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// WaitIdle blocks until no exchange is in flight and returns that state.
func (c *Controller) WaitIdle(ctx context.Context) (reducer.Snapshot, error) {
	for {
		c.mu.RLock()
		snap, changed := c.snap, c.changed
		c.mu.RUnlock()

		if !snap.IsProcessing {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-c.done:
			return snap, ErrClosed
		case <-changed:
		}
	}
}

// do runs fn on the loop goroutine and waits until its effects are published.
func (c *Controller) do(fn func(r *reducer.Reducer)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.inbox <- req:
	case <-c.done:
		return ErrClosed
	}
	<-req.done
	return nil
}

// post queues fn from a background goroutine without waiting.
func (c *Controller) post(fn func(r *reducer.Reducer)) {
	select {
	case c.inbox <- request{fn: fn}:
	case <-c.done:
	}
}

func (c *Controller) dispatchSend(req reducer.SendRequest) {
	if c.recorder != nil {
		if err := c.recorder.RecordSend(req); err != nil {
			logDebug(c.ctx, "failed to record send", slog.String("error", err.Error()))
		}
	}

	ctx := c.ctx
	go func() {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		resp, err := c.transport.SendMessage(callCtx, req)
		if err != nil {
			logError(ctx, "failed to send chat message", slog.String("error", err.Error()))
		}
		c.post(func(r *reducer.Reducer) {
			if c.recorder != nil {
				if recErr := c.recorder.RecordSendResult(resp, err); recErr != nil {
					logDebug(ctx, "failed to record send result", slog.String("error", recErr.Error()))
				}
			}
			var applied bool
			if err != nil {
				applied = r.SendFailed(req.ExchangeID, err)
			} else {
				applied = r.SendSucceeded(req.ExchangeID, resp)
			}
			if !applied {
				logDebug(ctx, "dropped send result for an abandoned exchange")
			}
		})
	}()
}

func (c *Controller) dispatchCancel(taskID string) {
	ctx := c.ctx
	go func() {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		ok, err := c.transport.CancelTask(callCtx, taskID)
		c.post(func(r *reducer.Reducer) {
			if err != nil || !ok {
				r.CancelFailed(taskID, err)
				return
			}
			r.CancelSucceeded(taskID)
		})
	}()
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// publish stores the reducer's snapshot and wakes waiters. Only the loop
// goroutine calls it.
func (c *Controller) publish(r *reducer.Reducer) {
	snap := r.Snapshot()

	c.mu.Lock()
	c.snap = snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	select {
	case <-c.updates:
	default:
	}
	c.updates <- snap
}

type clientTransport struct {
	*transport.Client
}

// FromClient adapts an HTTP client to Transport.
func FromClient(c *transport.Client) Transport {
	return clientTransport{Client: c}
}

func (t clientTransport) Subscribe(ctx context.Context, conversationID string) Stream {
	return t.Client.Subscribe(ctx, conversationID)
}
