package session

import (
	"context"
	"log/slog"

	applog "github.com/kong/agentchat/internal/log"
)

func logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if logger := applog.FromContext(ctx); logger != nil {
		logger.LogAttrs(ctx, slog.LevelDebug, msg, append(applog.ChatLogContextAttrs(ctx), attrs...)...)
	}
}

func logError(ctx context.Context, msg string, attrs ...slog.Attr) {
	if logger := applog.FromContext(ctx); logger != nil {
		logger.LogAttrs(ctx, slog.LevelError, msg, append(applog.ChatLogContextAttrs(ctx), attrs...)...)
	}
}
