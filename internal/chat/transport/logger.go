package transport

import (
	"context"
	"log/slog"

	applog "github.com/kong/agentchat/internal/log"
)

func logAt(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	logger := applog.FromContext(ctx)
	if logger == nil {
		return
	}
	attrs = append(applog.ChatLogContextAttrs(ctx), attrs...)
	logger.LogAttrs(ctx, level, msg, attrs...)
}

func logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelDebug, msg, attrs)
}

func logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelInfo, msg, attrs)
}

func logWarn(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelWarn, msg, attrs)
}

func logError(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelError, msg, attrs)
}

func logTrace(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, applog.LevelTrace, msg, attrs)
}
