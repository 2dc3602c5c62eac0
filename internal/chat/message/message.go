// Package message holds the ordered conversation log and the copy-on-write
// transformations applied to it.
//
// Every operation returns a new slice in which only the affected element has been
// replaced. Callers may therefore compare slices or elements by identity to detect
// changes; no function in this package mutates a Message it was given.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderSelf   Sender = "self"
	SenderOther  Sender = "other"
	SenderSystem Sender = "system"
)

// Status tracks the delivery lifecycle of self and streamed messages.
type Status string

const (
	StatusNone      Status = ""
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// ErrorInfo describes why a message failed. RetryCount is carried so a retry
// policy can be layered on top without changing the reducer.
type ErrorInfo struct {
	Code       string `json:"code"                 yaml:"code"`
	Message    string `json:"message"              yaml:"message"`
	Retryable  bool   `json:"retryable"            yaml:"retryable"`
	RetryCount int    `json:"retryCount,omitempty" yaml:"retryCount,omitempty"`
}

// Action is an optional interactive affordance attached to a message.
type Action struct {
	ID    string `json:"id"    yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Attachment references an out-of-band payload attached to a message.
type Attachment struct {
	Name     string `json:"name"               yaml:"name"`
	MimeType string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"      yaml:"url,omitempty"`
	Size     int64  `json:"size,omitempty"     yaml:"size,omitempty"`
}

// Message is a single conversation entry. It is treated as an immutable value.
type Message struct {
	ID          string         `json:"id"                    yaml:"id"`
	Sender      Sender         `json:"sender"                yaml:"sender"`
	Content     string         `json:"content"               yaml:"content"`
	Timestamp   time.Time      `json:"timestamp"             yaml:"timestamp"`
	Status      Status         `json:"status,omitempty"      yaml:"status,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"       yaml:"error,omitempty"`
	Actions     []Action       `json:"actions,omitempty"     yaml:"actions,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"    yaml:"metadata,omitempty"`
}

// Log is the ordered message sequence. Insertion order is display order.
type Log []Message

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// New builds a message with a fresh id. System messages never carry a status.
func New(sender Sender, content string, status Status, now time.Time) Message {
	if sender == SenderSystem {
		status = StatusNone
	}
	return Message{
		ID:        NewID(),
		Sender:    sender,
		Content:   content,
		Timestamp: now,
		Status:    status,
	}
}

// Append returns a new log with msg added at the end.
func Append(log Log, msg Message) Log {
	out := make(Log, len(log), len(log)+1)
	copy(out, log)
	return append(out, msg)
}

// Find returns the message with the given id.
func Find(log Log, id string) (Message, bool) {
	if idx := indexOf(log, id); idx >= 0 {
		return log[idx], true
	}
	return Message{}, false
}

// UpdateStatus replaces the status of the matching message. The error payload is
// cleared unless the new status is itself StatusError.
func UpdateStatus(log Log, id string, status Status) Log {
	return replace(log, id, func(m Message) Message {
		m.Status = status
		if status != StatusError {
			m.Error = nil
		}
		return m
	})
}

// UpdateError marks the matching message as failed and attaches info.
func UpdateError(log Log, id string, info ErrorInfo) Log {
	return replace(log, id, func(m Message) Message {
		m.Status = StatusError
		e := info
		m.Error = &e
		return m
	})
}

// AppendContent concatenates chunk onto the matching message's content.
func AppendContent(log Log, id, chunk string) Log {
	if chunk == "" {
		return log
	}
	return replace(log, id, func(m Message) Message {
		m.Content += chunk
		return m
	})
}

// ReplaceContent swaps the matching message's content for content.
func ReplaceContent(log Log, id, content string) Log {
	return replace(log, id, func(m Message) Message {
		m.Content = content
		return m
	})
}

// RemoveByID returns a log without the matching message.
func RemoveByID(log Log, id string) Log {
	idx := indexOf(log, id)
	if idx < 0 {
		return log
	}
	out := make(Log, 0, len(log)-1)
	out = append(out, log[:idx]...)
	return append(out, log[idx+1:]...)
}

// replace applies fn to a copy of the matching message and returns a new log
// holding the result. The original log is returned unchanged when id is unknown.
func replace(log Log, id string, fn func(Message) Message) Log {
	idx := indexOf(log, id)
	if idx < 0 {
		return log
	}
	out := make(Log, len(log))
	copy(out, log)
	out[idx] = fn(cloneMessage(log[idx]))
	return out
}

func indexOf(log Log, id string) int {
	if id == "" {
		return -1
	}
	for i := range log {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessage(m Message) Message {
	if m.Error != nil {
		e := *m.Error
		m.Error = &e
	}
	if m.Actions != nil {
		m.Actions = append([]Action(nil), m.Actions...)
	}
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Metadata != nil {
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	return m
}
