package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type Key struct{}

var LoggerKey = Key{}

// LevelTrace is a custom trace level for slog
// Using LevelDebug - 4 which equals -8
const LevelTrace = slog.LevelDebug - 4

func ConfigLevelStringToSlogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelError
	}
}

// Options configure the process logger.
type Options struct {
	Level string
	// File receives every record at Level and above. Empty discards them.
	File string
	// ErrOut receives a friendly rendering of error records while mirroring
	// is enabled.
	ErrOut io.Writer
}

// New builds the process logger: a text handler writing to the log file and
// a friendly error handler mirroring failures to ErrOut. The returned closer
// releases the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = io.Discard
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	primary := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       ConfigLevelStringToSlogLevel(opts.Level),
		ReplaceAttr: replaceLevel,
	})

	var secondary slog.Handler
	if opts.ErrOut != nil {
		secondary = NewFriendlyErrorHandler(opts.ErrOut)
	}
	return slog.New(NewDualHandler(primary, secondary)), closer, nil
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
