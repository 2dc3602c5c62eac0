// Package reducer folds user intents and inbound stream events into
// conversation state.
//
// A Reducer is a synchronous state machine over one exchange at a time
// (Idle → Awaiting → Streaming → Finishing → Idle). It performs no I/O: Send and
// Retry hand back the request the caller must issue, and Cancel hands back the
// task id to cancel. The outcome of those calls is fed back through
// SendSucceeded, SendFailed, CancelSucceeded and CancelFailed.
//
// A Reducer is not safe for concurrent use. One goroutine must own it and
// process inputs strictly in arrival order.
package reducer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kong/agentchat/internal/chat/message"
)

const (
	labelRouting    = "Routing…"
	labelProcessing = "Processing…"
)

// Options configure a Reducer.
type Options struct {
	WorkingDirectory string
	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// Reducer owns the session state.
type Reducer struct {
	workingDirectory string
	now              func() time.Time
	newID            func() string

	messages       message.Log
	conversationID string
	ex             *exchange
	tools          []ToolCall
	activity       []Activity

	// conversations and tasks abandoned by Clear
	retiredConversations map[string]struct{}
	retiredTasks         map[string]struct{}
}

// New builds an idle reducer.
func New(opts Options) *Reducer {
	r := &Reducer{
		workingDirectory: opts.WorkingDirectory,
		now:              opts.Now,
		newID:            opts.NewID,

		retiredConversations: make(map[string]struct{}),
		retiredTasks:         make(map[string]struct{}),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Snapshot returns the current state.
func (r *Reducer) Snapshot() Snapshot {
	s := Snapshot{
		Messages:       r.messages,
		ConversationID: r.conversationID,
		Phase:          PhaseIdle,
		Tools:          r.tools,
		Activity:       r.activity,
	}
	if ex := r.ex; ex != nil {
		s.Phase = ex.phase
		s.IsProcessing = true
		s.IsTyping = true
		s.TypingLabel = ex.typingLabel
		s.AgentName = ex.agentName
		s.TaskID = ex.taskID
		s.StreamingMessageID = ex.placeholderID
	}
	return s
}

// Phase reports the current exchange phase.
func (r *Reducer) Phase() Phase {
	if r.ex == nil {
		return PhaseIdle
	}
	return r.ex.phase
}

// ConversationID returns the server-assigned conversation id, if any.
func (r *Reducer) ConversationID() string {
	return r.conversationID
}

// Send starts a new exchange. It returns false, and changes nothing, unless the
// reducer is idle.
func (r *Reducer) Send(content string) (SendRequest, bool) {
	return r.send(content, 0)
}

func (r *Reducer) send(content string, retries int) (SendRequest, bool) {
	if r.ex != nil {
		return SendRequest{}, false
	}

	msg := r.newMessage(message.SenderSelf, content, message.StatusSending)
	r.messages = message.Append(r.messages, msg)
	r.tools = nil
	r.activity = nil
	r.ex = &exchange{
		phase:       PhaseAwaiting,
		selfID:      msg.ID,
		content:     content,
		retries:     retries,
		typingLabel: labelRouting,
	}
	if retries > 0 {
		r.logActivity(ActivityInfo, fmt.Sprintf("Retrying message (attempt %d)", retries+1))
	} else {
		r.logActivity(ActivityInfo, "Message sent, waiting for the server")
	}

	return SendRequest{
		ExchangeID:       msg.ID,
		Content:          content,
		WorkingDirectory: r.workingDirectory,
		ConversationID:   r.conversationID,
	}, true
}

// SendSucceeded records the server's acceptance of the send identified by
// exchangeID and opens the streaming placeholder. Results for any exchange
// other than the one awaiting its reply are ignored.
func (r *Reducer) SendSucceeded(exchangeID string, resp SendResponse) bool {
	ex := r.awaiting(exchangeID)
	if ex == nil {
		return false
	}

	if r.conversationID == "" && strings.TrimSpace(resp.ConversationID) != "" {
		r.conversationID = strings.TrimSpace(resp.ConversationID)
	}
	r.messages = message.UpdateStatus(r.messages, ex.selfID, message.StatusSent)

	placeholder := r.newMessage(message.SenderOther, ex.early, message.StatusSending)
	if resp.MessageID != "" {
		placeholder.Metadata = map[string]any{"serverMessageId": resp.MessageID}
	}
	r.messages = message.Append(r.messages, placeholder)

	ex.placeholderID = placeholder.ID
	ex.early = ""
	ex.phase = PhaseStreaming
	r.logActivity(ActivityInfo, "Server accepted the message")

	deferred := ex.deferred
	ex.deferred = nil
	for _, evt := range deferred {
		r.Apply(evt)
	}
	return true
}

// SendFailed marks the pending message as failed, posts a system notice and
// returns to idle. Like SendSucceeded it only applies to the awaiting exchange.
func (r *Reducer) SendFailed(exchangeID string, err error) bool {
	ex := r.awaiting(exchangeID)
	if ex == nil {
		return false
	}

	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	r.messages = message.UpdateError(r.messages, ex.selfID, message.ErrorInfo{
		Code:       errorCode(err),
		Message:    text,
		Retryable:  true,
		RetryCount: ex.retries,
	})
	r.messages = message.Append(r.messages,
		r.newMessage(message.SenderSystem, "Failed to send message: "+text, message.StatusNone))
	r.logActivity(ActivityError, "Send failed: "+text)
	r.ex = nil
	return true
}

// awaiting returns the current exchange if it is the one identified by
// exchangeID and still waiting for its send to be acknowledged.
func (r *Reducer) awaiting(exchangeID string) *exchange {
	ex := r.ex
	if ex == nil || ex.phase != PhaseAwaiting || ex.selfID != exchangeID {
		return nil
	}
	return ex
}

// Retry resends a failed message. The failed entry is removed and its content
// sent again. Anything other than an existing message in error state is a no-op.
func (r *Reducer) Retry(id string) (SendRequest, bool) {
	if r.ex != nil {
		return SendRequest{}, false
	}
	msg, ok := message.Find(r.messages, id)
	if !ok || msg.Status != message.StatusError {
		return SendRequest{}, false
	}
	retries := 1
	if msg.Error != nil {
		retries = msg.Error.RetryCount + 1
	}
	r.messages = message.RemoveByID(r.messages, id)
	return r.send(msg.Content, retries)
}

// Cancel returns the in-flight task id the caller should cancel. It does not
// change state: the exchange finishes when the server confirms with
// task_cancelled.
func (r *Reducer) Cancel() (string, bool) {
	if r.ex == nil || r.ex.taskID == "" {
		return "", false
	}
	r.logActivity(ActivityInfo, "Cancellation requested for task "+r.ex.taskID)
	return r.ex.taskID, true
}

// CancelSucceeded posts a notice that the server accepted a cancel request.
func (r *Reducer) CancelSucceeded(taskID string) {
	r.Notice("Cancellation requested. Waiting for the agent to stop.")
	r.logActivity(ActivityInfo, "Cancel accepted for task "+taskID)
}

// CancelFailed posts a notice that a cancel request was rejected or failed.
func (r *Reducer) CancelFailed(taskID string, err error) {
	text := "the server rejected the request"
	if err != nil {
		text = err.Error()
	}
	r.Notice("Failed to cancel the task: " + text)
	r.logActivity(ActivityError, fmt.Sprintf("Cancel failed for task %s: %s", taskID, text))
}

// Notice appends a system message.
func (r *Reducer) Notice(text string) {
	r.messages = message.Append(r.messages, r.newMessage(message.SenderSystem, text, message.StatusNone))
}

// Clear resets the whole session, including the conversation id. The
// abandoned conversation and task are retired so their late events cannot
// leak into the next exchange.
func (r *Reducer) Clear() {
	if r.conversationID != "" {
		r.retiredConversations[r.conversationID] = struct{}{}
	}
	if r.ex != nil && r.ex.taskID != "" {
		r.retiredTasks[r.ex.taskID] = struct{}{}
	}
	r.messages = nil
	r.conversationID = ""
	r.ex = nil
	r.tools = nil
	r.activity = nil
}

// finish runs the shared cleanup for every terminal event. The nil check makes
// it run at most once per exchange.
func (r *Reducer) finish() {
	ex := r.ex
	if ex == nil {
		return
	}
	ex.phase = PhaseFinishing
	if ex.placeholderID != "" {
		if msg, ok := message.Find(r.messages, ex.placeholderID); ok && msg.Status != message.StatusError {
			r.messages = message.UpdateStatus(r.messages, ex.placeholderID, message.StatusSent)
		}
	}
	r.ex = nil
}

func (r *Reducer) newMessage(sender message.Sender, content string, status message.Status) message.Message {
	msg := message.New(sender, content, status, r.now())
	msg.ID = r.newID()
	return msg
}

func (r *Reducer) logActivity(kind ActivityKind, text string) {
	r.activity = append(r.activity, Activity{
		ID:   r.newID(),
		Time: r.now(),
		Kind: kind,
		Text: text,
	})
}

type coder interface {
	ErrorCode() string
}

func errorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		if code := c.ErrorCode(); code != "" {
			return code
		}
	}
	return "send_failed"
}
