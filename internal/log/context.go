package log

import (
	"context"
	"log/slog"
	"strings"
)

type chatLogContextKey struct{}

// ChatLogContext carries identifiers emitted with every chat transport and
// session log record.
type ChatLogContext struct {
	CommandPath    string
	SessionID      string
	ConversationID string
	TaskID         string
}

var ChatLogContextKey = chatLogContextKey{}

// FromContext returns the logger stored under LoggerKey, or nil.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// WithChatLogContext merges non-empty fields from update into ctx.
func WithChatLogContext(ctx context.Context, update ChatLogContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	current := ChatLogContextFromContext(ctx)
	mergeStringField(&current.CommandPath, update.CommandPath)
	mergeStringField(&current.SessionID, update.SessionID)
	mergeStringField(&current.ConversationID, update.ConversationID)
	mergeStringField(&current.TaskID, update.TaskID)

	return context.WithValue(ctx, ChatLogContextKey, current)
}

// ChatLogContextFromContext extracts chat logging metadata from ctx.
func ChatLogContextFromContext(ctx context.Context) ChatLogContext {
	if ctx == nil {
		return ChatLogContext{}
	}
	if value, ok := ctx.Value(ChatLogContextKey).(ChatLogContext); ok {
		return value
	}
	return ChatLogContext{}
}

// ChatLogContextAttrs converts context metadata to slog attributes.
func ChatLogContextAttrs(ctx context.Context) []slog.Attr {
	meta := ChatLogContextFromContext(ctx)
	attrs := make([]slog.Attr, 0, 4)

	appendStringAttr(&attrs, "command_path", meta.CommandPath)
	appendStringAttr(&attrs, "session_id", meta.SessionID)
	appendStringAttr(&attrs, "conversation_id", meta.ConversationID)
	appendStringAttr(&attrs, "task_id", meta.TaskID)

	return attrs
}

func mergeStringField(target *string, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	*target = trimmed
}

func appendStringAttr(attrs *[]slog.Attr, key, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	*attrs = append(*attrs, slog.String(key, trimmed))
}
