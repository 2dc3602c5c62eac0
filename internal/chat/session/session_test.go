package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/chat/message"
	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/chat/transport"
	"github.com/kong/agentchat/internal/chat/validation"
)

type fakeStream struct {
	events   chan event.Event
	statuses chan transport.Status
	closed   atomic.Bool
}

func (s *fakeStream) Events() <-chan event.Event             { return s.events }
func (s *fakeStream) StatusChanges() <-chan transport.Status { return s.statuses }
func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTransport struct {
	stream *fakeStream

	mu      sync.Mutex
	sent    []reducer.SendRequest
	sendFn  func(reducer.SendRequest) (reducer.SendResponse, error)
	cancels []string
	cancel  func(string) (bool, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		stream: &fakeStream{
			events:   make(chan event.Event),
			statuses: make(chan transport.Status, 1),
		},
		sendFn: func(reducer.SendRequest) (reducer.SendResponse, error) {
			return reducer.SendResponse{ConversationID: "c1", MessageID: "m1"}, nil
		},
		cancel: func(string) (bool, error) { return true, nil },
	}
}

func (f *fakeTransport) SendMessage(_ context.Context, req reducer.SendRequest) (reducer.SendResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	fn := f.sendFn
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeTransport) CancelTask(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	f.cancels = append(f.cancels, taskID)
	fn := f.cancel
	f.mu.Unlock()
	return fn(taskID)
}

func (f *fakeTransport) Subscribe(context.Context, string) Stream {
	return f.stream
}

func (f *fakeTransport) sends() []reducer.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reducer.SendRequest(nil), f.sent...)
}

type memoryRecorder struct {
	mu     sync.Mutex
	sends  int
	result int
	events int
}

func (m *memoryRecorder) RecordSend(reducer.SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	return nil
}

func (m *memoryRecorder) RecordSendResult(reducer.SendResponse, error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result++
	return nil
}

func (m *memoryRecorder) RecordEvent(event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events++
	return nil
}

func startController(t *testing.T, ft *fakeTransport, rec Recorder) *Controller {
	t.Helper()
	opts := Options{
		Transport:        ft,
		Validation:       validation.DefaultConfig(),
		WorkingDirectory: "/work",
	}
	if rec != nil {
		opts.Recorder = rec
	}
	c, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
	return c
}

func waitFor(t *testing.T, c *Controller, cond func(reducer.Snapshot) bool) reducer.Snapshot {
	t.Helper()
	var snap reducer.Snapshot
	require.Eventually(t, func() bool {
		snap = c.Snapshot()
		return cond(snap)
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func streamingPhase(s reducer.Snapshot) bool { return s.Phase == reducer.PhaseStreaming }

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSubmitRunsFullExchange(t *testing.T) {
	ft := newFakeTransport()
	rec := &memoryRecorder{}
	c := startController(t, ft, rec)

	require.NoError(t, c.Submit("  Hi  "))
	waitFor(t, c, streamingPhase)

	sends := ft.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Hi", sends[0].Content)
	assert.Equal(t, "/work", sends[0].WorkingDirectory)
	assert.NotEmpty(t, sends[0].ExchangeID)

	ft.stream.events <- event.Event{Type: event.TypeTaskOutput, Content: "Hel"}
	ft.stream.events <- event.Event{Type: event.TypeTaskOutput, Content: "lo"}
	ft.stream.events <- event.Event{Type: event.TypeTaskCompleted}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.WaitIdle(ctx)
	require.NoError(t, err)

	reply, ok := snap.LastReply()
	require.True(t, ok)
	assert.Equal(t, "Hello", reply.Content)
	assert.Equal(t, message.StatusSent, reply.Status)
	assert.Equal(t, "c1", snap.ConversationID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.sends)
	assert.Equal(t, 1, rec.result)
	assert.Equal(t, 3, rec.events)
}

func TestSubmitValidationNeverReachesServer(t *testing.T) {
	ft := newFakeTransport()
	c := startController(t, ft, nil)

	err := c.Submit("   ")
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validation.CodeEmpty, verr.Code)
	assert.Empty(t, ft.sends())
	assert.Empty(t, c.Snapshot().Messages)
}

func TestSubmitWhileBusy(t *testing.T) {
	ft := newFakeTransport()
	c := startController(t, ft, nil)

	require.NoError(t, c.Submit("first"))
	waitFor(t, c, streamingPhase)

	require.ErrorIs(t, c.Submit("second"), ErrBusy)
	assert.Len(t, ft.sends(), 1)
}

func TestSendFailureThenRetry(t *testing.T) {
	ft := newFakeTransport()
	var calls atomic.Int32
	ft.sendFn = func(reducer.SendRequest) (reducer.SendResponse, error) {
		if calls.Add(1) == 1 {
			return reducer.SendResponse{}, errors.New("connection refused")
		}
		return reducer.SendResponse{ConversationID: "c1"}, nil
	}
	c := startController(t, ft, nil)

	require.NoError(t, c.Submit("Hi"))
	snap := waitFor(t, c, func(s reducer.Snapshot) bool {
		return len(s.Messages) == 2 && !s.IsProcessing
	})
	failed := snap.Messages[0]
	require.Equal(t, message.StatusError, failed.Status)

	require.ErrorIs(t, c.Retry(snap.Messages[1].ID), ErrNotRetryable)
	require.NoError(t, c.Retry(failed.ID))
	waitFor(t, c, streamingPhase)
	assert.Len(t, ft.sends(), 2)
}

func TestLateSendResultAfterClearIsIgnored(t *testing.T) {
	ft := newFakeTransport()
	release := map[string]chan reducer.SendResponse{
		"first":  make(chan reducer.SendResponse),
		"second": make(chan reducer.SendResponse),
	}
	ft.sendFn = func(req reducer.SendRequest) (reducer.SendResponse, error) {
		return <-release[req.Content], nil
	}
	rec := &memoryRecorder{}
	c := startController(t, ft, rec)

	require.NoError(t, c.Submit("first"))
	require.NoError(t, c.Clear())
	require.NoError(t, c.Submit("second"))
	require.Eventually(t, func() bool { return len(ft.sends()) == 2 }, 5*time.Second, 5*time.Millisecond)

	release["first"] <- reducer.SendResponse{ConversationID: "old-conv"}
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.result == 1
	}, 5*time.Second, 5*time.Millisecond)
	// round trip through the loop so the stale result has been handled
	require.ErrorIs(t, c.Cancel(), ErrNoTask)

	snap := c.Snapshot()
	assert.Equal(t, reducer.PhaseAwaiting, snap.Phase)
	assert.Empty(t, snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "second", snap.Messages[0].Content)
	assert.Equal(t, message.StatusSending, snap.Messages[0].Status)

	release["second"] <- reducer.SendResponse{ConversationID: "new-conv"}
	snap = waitFor(t, c, streamingPhase)
	assert.Equal(t, "new-conv", snap.ConversationID)
	assert.Equal(t, message.StatusSent, snap.Messages[0].Status)
}

func TestCancel(t *testing.T) {
	ft := newFakeTransport()
	c := startController(t, ft, nil)

	require.ErrorIs(t, c.Cancel(), ErrNoTask)

	require.NoError(t, c.Submit("Hi"))
	waitFor(t, c, streamingPhase)
	ft.stream.events <- event.Event{Type: event.TypeTaskStarted, TaskID: "task-1"}

	require.NoError(t, c.Cancel())
	snap := waitFor(t, c, func(s reducer.Snapshot) bool {
		last := s.Messages[len(s.Messages)-1]
		return last.Sender == message.SenderSystem
	})
	assert.Equal(t, reducer.PhaseStreaming, snap.Phase)

	ft.stream.events <- event.Event{Type: event.TypeTaskCancelled, TaskID: "task-1"}
	waitFor(t, c, func(s reducer.Snapshot) bool { return s.Phase == reducer.PhaseIdle })

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, []string{"task-1"}, ft.cancels)
}

func TestEventsForOtherConversationsAreDropped(t *testing.T) {
	ft := newFakeTransport()
	c := startController(t, ft, nil)

	require.NoError(t, c.Submit("Hi"))
	waitFor(t, c, streamingPhase)

	ft.stream.events <- event.Event{Type: event.TypeTaskOutput, ConversationID: "other", Content: "x"}
	ft.stream.events <- event.Event{Type: event.TypeTaskOutput, ConversationID: "c1", Content: "y"}

	snap := waitFor(t, c, func(s reducer.Snapshot) bool {
		reply, ok := s.LastReply()
		return ok && reply.Content != ""
	})
	reply, _ := snap.LastReply()
	assert.Equal(t, "y", reply.Content)
}

func TestConnectionStatusIsPublished(t *testing.T) {
	ft := newFakeTransport()
	c := startController(t, ft, nil)

	assert.Equal(t, transport.StatusDisconnected, c.Connection())
	ft.stream.statuses <- transport.StatusConnected
	require.Eventually(t, func() bool {
		return c.Connection() == transport.StatusConnected
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRunReleasesStream(t *testing.T) {
	ft := newFakeTransport()
	c, err := New(Options{Transport: ft})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.NoError(t, c.Clear())
	cancel()
	require.NoError(t, <-errCh)
	assert.True(t, ft.stream.closed.Load())

	require.ErrorIs(t, c.Submit("late"), ErrClosed)
	require.Error(t, c.Run(context.Background()))
}
