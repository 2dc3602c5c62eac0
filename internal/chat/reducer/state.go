package reducer

import (
	"fmt"
	"time"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/chat/message"
)

// Phase is the lifecycle position of the current exchange.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaiting
	PhaseStreaming
	PhaseFinishing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaiting:
		return "awaiting"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinishing:
		return "finishing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name in JSON and YAML output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SendRequest is the outbound call the caller must issue after a successful Send.
type SendRequest struct {
	// ExchangeID identifies the exchange that issued the request. It is not
	// sent to the server; the caller passes it back with the outcome.
	ExchangeID string `json:"-" yaml:"-"`

	Content          string `json:"content"                  yaml:"content"`
	WorkingDirectory string `json:"workingDirectory"         yaml:"workingDirectory"`
	ConversationID   string `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
}

// SendResponse is the server's acknowledgement of a SendRequest.
type SendResponse struct {
	ConversationID string `json:"conversationId" yaml:"conversationId"`
	MessageID      string `json:"messageId"      yaml:"messageId"`
}

// ToolCall is one ledger entry. Success is nil until a result has been matched.
type ToolCall struct {
	Tool      string         `json:"tool"                yaml:"tool"`
	Input     map[string]any `json:"input,omitempty"     yaml:"input,omitempty"`
	Output    string         `json:"output,omitempty"    yaml:"output,omitempty"`
	Success   *bool          `json:"success,omitempty"   yaml:"success,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty" yaml:"toolUseId,omitempty"`
}

// Matched reports whether a result has been recorded for the call.
func (c ToolCall) Matched() bool {
	return c.Success != nil
}

// ActivityKind classifies an activity log entry.
type ActivityKind string

const (
	ActivityInfo       ActivityKind = "info"
	ActivityStarted    ActivityKind = "started"
	ActivityProgress   ActivityKind = "progress"
	ActivityRouting    ActivityKind = "routing"
	ActivityToolCall   ActivityKind = "tool_call"
	ActivityToolResult ActivityKind = "tool_result"
	ActivitySubagent   ActivityKind = "subagent"
	ActivityCompleted  ActivityKind = "completed"
	ActivityError      ActivityKind = "error"
	ActivityCancelled  ActivityKind = "cancelled"
	ActivityAgentEvent ActivityKind = "agent_event"
)

// Activity is a human readable entry describing a reducer transition.
type Activity struct {
	ID   string       `json:"id"   yaml:"id"`
	Time time.Time    `json:"time" yaml:"time"`
	Kind ActivityKind `json:"kind" yaml:"kind"`
	Text string       `json:"text" yaml:"text"`
}

// Snapshot is a read-only view of the session. Slices are shared with the
// reducer and must not be modified.
type Snapshot struct {
	Messages           message.Log `json:"messages"                     yaml:"messages"`
	ConversationID     string      `json:"conversationId,omitempty"     yaml:"conversationId,omitempty"`
	Phase              Phase       `json:"phase"                        yaml:"phase"`
	IsProcessing       bool        `json:"isProcessing"                 yaml:"isProcessing"`
	IsTyping           bool        `json:"isTyping"                     yaml:"isTyping"`
	TypingLabel        string      `json:"typingLabel,omitempty"        yaml:"typingLabel,omitempty"`
	AgentName          string      `json:"agentName,omitempty"          yaml:"agentName,omitempty"`
	TaskID             string      `json:"taskId,omitempty"             yaml:"taskId,omitempty"`
	StreamingMessageID string      `json:"streamingMessageId,omitempty" yaml:"streamingMessageId,omitempty"`
	Tools              []ToolCall  `json:"tools,omitempty"              yaml:"tools,omitempty"`
	Activity           []Activity  `json:"activity,omitempty"           yaml:"activity,omitempty"`
}

// LastReply returns the most recent message from the other side, if any.
func (s Snapshot) LastReply() (message.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == message.SenderOther {
			return s.Messages[i], true
		}
	}
	return message.Message{}, false
}

// exchange holds everything scoped to one user send. The reducer keeps a nil
// exchange while idle, so exchange fields can never leak into the idle state.
type exchange struct {
	phase         Phase
	selfID        string
	content       string
	retries       int
	placeholderID string
	taskID        string
	agentName     string
	typingLabel   string

	// Output and terminal events that arrive before the send is acknowledged.
	early    string
	deferred []event.Event
}
