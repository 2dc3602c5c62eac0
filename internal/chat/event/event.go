// Package event defines the inbound stream envelope and the typed payloads the
// reducer understands.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type names an inbound event.
type Type string

const (
	TypeStarted         Type = "started"
	TypeCompleted       Type = "completed"
	TypeTaskStarted     Type = "task_started"
	TypeTaskProgress    Type = "task_progress"
	TypeTaskOutput      Type = "task_output"
	TypeTaskCompleted   Type = "task_completed"
	TypeTaskFailed      Type = "task_failed"
	TypeTaskCancelled   Type = "task_cancelled"
	TypeToolCall        Type = "tool_call"
	TypeToolResult      Type = "tool_result"
	TypeSubagentStart   Type = "subagent_start"
	TypeSubagentStop    Type = "subagent_stop"
	TypeRoutingDecision Type = "routing_decision"

	// Older servers still emit these.
	TypeProgress   Type = "progress"
	TypeOutput     Type = "output"
	TypeTool       Type = "tool"
	TypeError      Type = "error"
	TypeAgentEvent Type = "agent_event"
)

// ErrMalformed is returned by Decode for frames that cannot be interpreted.
var ErrMalformed = errors.New("malformed event")

// IsLegacy reports whether t belongs to the compatibility vocabulary.
func (t Type) IsLegacy() bool {
	switch t {
	case TypeProgress, TypeOutput, TypeTool, TypeError, TypeAgentEvent:
		return true
	}
	return false
}

// Canonical maps legacy types onto their modern counterparts. Types without a
// counterpart are returned unchanged.
func (t Type) Canonical() Type {
	switch t {
	case TypeProgress:
		return TypeTaskProgress
	case TypeOutput:
		return TypeTaskOutput
	case TypeTool:
		return TypeToolCall
	case TypeError:
		return TypeTaskFailed
	}
	return t
}

// IsTerminal reports whether an event of type t ends the current exchange.
func (t Type) IsTerminal() bool {
	switch t.Canonical() {
	case TypeCompleted, TypeTaskCompleted, TypeTaskFailed, TypeTaskCancelled:
		return true
	}
	return false
}

// Event is the decoded envelope of a single stream message.
type Event struct {
	Type           Type           `json:"type"                     yaml:"type"`
	ConversationID string         `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	MessageID      string         `json:"messageId,omitempty"      yaml:"messageId,omitempty"`
	AgentID        string         `json:"agentId,omitempty"        yaml:"agentId,omitempty"`
	AgentName      string         `json:"agentName,omitempty"      yaml:"agentName,omitempty"`
	TaskID         string         `json:"taskId,omitempty"         yaml:"taskId,omitempty"`
	Content        string         `json:"content,omitempty"        yaml:"content,omitempty"`
	Error          string         `json:"error,omitempty"          yaml:"error,omitempty"`
	Data           map[string]any `json:"data,omitempty"           yaml:"data,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"      yaml:"timestamp,omitempty"`
}

// Decode parses a single SSE data payload. The envelope's own type wins over the
// SSE event name, which is only used as a fallback.
func Decode(name string, raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if strings.TrimSpace(string(evt.Type)) == "" {
		evt.Type = Type(strings.TrimSpace(name))
	}
	if evt.Type == "" || evt.Type == "message" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return evt, nil
}

// ConnectionLost builds the synthetic error event a transport emits when the
// stream drops unexpectedly.
func ConnectionLost(reason string) Event {
	msg := "connection lost"
	if r := strings.TrimSpace(reason); r != "" {
		msg = fmt.Sprintf("connection lost: %s", r)
	}
	return Event{
		Type:  TypeError,
		Error: msg,
		Data:  map[string]any{"code": "connection_lost", "recoverable": true},
	}
}

// Agent returns the best label for the agent that emitted the event.
func (e Event) Agent() string {
	if name := strings.TrimSpace(e.AgentName); name != "" {
		return name
	}
	return strings.TrimSpace(e.AgentID)
}

// Text returns the event's textual content, looking inside Data when the
// envelope field is empty.
func (e Event) Text() string {
	if e.Content != "" {
		return e.Content
	}
	return text(e.Data, "content", "text", "delta")
}
