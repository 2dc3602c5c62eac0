// Package storage writes diagnostic transcripts of chat sessions. Transcripts
// are append-only and never read back by the application.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/config"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	transcriptsDirName = "transcripts"
	metadataFileName   = "metadata.json"
	transcriptFileName = "transcript.jsonl"
)

// Options describe the properties known at the time a recorder is created.
type Options struct {
	BaseURL          string
	WorkingDirectory string
	CLIVersion       string
	// Dir overrides the parent directory of all transcripts. Defaults to
	// <config path>/transcripts.
	Dir string
}

// Metadata captures high-level information about a recorded session.
type Metadata struct {
	SessionID        string    `json:"session_id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	BaseURL          string    `json:"base_url,omitempty"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	RecorderCreated  time.Time `json:"recorder_created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	EntryCount       int64     `json:"entry_count"`
	CLIVersion       string    `json:"cli_version,omitempty"`
}

// Kind enumerates transcript line types.
type Kind string

const (
	KindLifecycle  Kind = "lifecycle"
	KindSend       Kind = "send"
	KindSendResult Kind = "send_result"
	KindInbound    Kind = "inbound"
	KindError      Kind = "error"
)

// Entry is a single transcript line.
type Entry struct {
	Sequence  int64                 `json:"sequence"`
	Timestamp time.Time             `json:"timestamp"`
	Kind      Kind                  `json:"kind"`
	Message   string                `json:"message,omitempty"`
	Event     *event.Event          `json:"event,omitempty"`
	Request   *reducer.SendRequest  `json:"request,omitempty"`
	Response  *reducer.SendResponse `json:"response,omitempty"`
	Error     string                `json:"error,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
}

// Recorder appends transcript lines for one session. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	sessionID string
	dir       string

	metaPath       string
	transcriptPath string

	mu       sync.Mutex
	metadata Metadata
}

// NewRecorder creates the session directory and writes initial metadata.
func NewRecorder(sessionID string, opts Options) (*Recorder, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("session id cannot be empty")
	}

	baseDir := strings.TrimSpace(opts.Dir)
	if baseDir == "" {
		configDir, err := config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		baseDir = filepath.Join(configDir, transcriptsDirName)
	}
	sessionDir := filepath.Join(baseDir, sanitizeComponent(trimmed))
	if err := os.MkdirAll(sessionDir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	now := time.Now().UTC()
	r := &Recorder{
		sessionID:      trimmed,
		dir:            sessionDir,
		metaPath:       filepath.Join(sessionDir, metadataFileName),
		transcriptPath: filepath.Join(sessionDir, transcriptFileName),
		metadata: Metadata{
			SessionID:        trimmed,
			BaseURL:          strings.TrimSpace(opts.BaseURL),
			WorkingDirectory: strings.TrimSpace(opts.WorkingDirectory),
			RecorderCreated:  now,
			UpdatedAt:        now,
			CLIVersion:       strings.TrimSpace(opts.CLIVersion),
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveMetadataLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// SessionID returns the identifier associated with the recorder.
func (r *Recorder) SessionID() string {
	if r == nil {
		return ""
	}
	return r.sessionID
}

// Directory exposes the path used for the transcript.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Metadata returns a copy of the current metadata.
func (r *Recorder) Metadata() Metadata {
	if r == nil {
		return Metadata{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// RecordLifecycle notes a session level transition such as start or clear.
func (r *Recorder) RecordLifecycle(message string) error {
	return r.Append(Entry{Kind: KindLifecycle, Message: message})
}

// RecordSend notes an outbound message.
func (r *Recorder) RecordSend(req reducer.SendRequest) error {
	return r.Append(Entry{Kind: KindSend, Request: &req})
}

// RecordSendResult notes the outcome of an outbound message. The first
// conversation id the server assigns is kept in the metadata.
func (r *Recorder) RecordSendResult(resp reducer.SendResponse, err error) error {
	if err != nil {
		return r.Append(Entry{Kind: KindSendResult, Error: err.Error()})
	}
	return r.Append(Entry{Kind: KindSendResult, Response: &resp})
}

// RecordEvent notes an inbound stream event.
func (r *Recorder) RecordEvent(evt event.Event) error {
	return r.Append(Entry{Kind: KindInbound, Event: &evt})
}

// RecordError notes a failure that did not come from the server.
func (r *Recorder) RecordError(message string, attrs map[string]any) error {
	if message == "" {
		return nil
	}
	return r.Append(Entry{Kind: KindError, Error: message, Metadata: attrs})
}

// Append writes a transcript line and updates metadata atomically.
func (r *Recorder) Append(entry Entry) error {
	if r == nil {
		return nil
	}
	if entry.Kind == "" {
		return errors.New("entry kind cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	} else {
		entry.Timestamp = entry.Timestamp.UTC()
	}

	r.metadata.EntryCount++
	entry.Sequence = r.metadata.EntryCount

	payload, err := json.Marshal(entry)
	if err != nil {
		r.metadata.EntryCount--
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	if err := appendLine(r.transcriptPath, payload); err != nil {
		r.metadata.EntryCount--
		return err
	}

	if r.metadata.ConversationID == "" && entry.Response != nil {
		r.metadata.ConversationID = strings.TrimSpace(entry.Response.ConversationID)
	}
	r.metadata.UpdatedAt = entry.Timestamp
	return r.saveMetadataLocked()
}

func (r *Recorder) saveMetadataLocked() error {
	raw, err := json.MarshalIndent(r.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeAtomic(r.metaPath, raw, defaultFilePerm)
}

func appendLine(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func writeAtomic(path string, payload []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(payload); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}

func sanitizeComponent(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	output := strings.Trim(b.String(), "_")
	if output == "" {
		return "session"
	}
	return output
}
