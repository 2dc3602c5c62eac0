package log

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// mirroring gates the stderr copy of error records. The chat view turns it
// off while it owns the terminal.
var mirroring atomic.Bool

func init() {
	mirroring.Store(true)
}

func EnableErrorMirroring() {
	mirroring.Store(true)
}

func DisableErrorMirroring() {
	mirroring.Store(false)
}

// NewDualHandler sends every record to primary and copies records at
// slog.LevelError and above to secondary while mirroring is on. Either
// handler may be nil.
func NewDualHandler(primary slog.Handler, secondary slog.Handler) slog.Handler {
	return &dualHandler{primary: primary, secondary: secondary}
}

type dualHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *dualHandler) logs(ctx context.Context, level slog.Level) bool {
	return h.primary != nil && h.primary.Enabled(ctx, level)
}

func (h *dualHandler) mirrors(ctx context.Context, level slog.Level) bool {
	return h.secondary != nil &&
		level >= slog.LevelError &&
		mirroring.Load() &&
		h.secondary.Enabled(ctx, level)
}

func (h *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.logs(ctx, level) || h.mirrors(ctx, level)
}

func (h *dualHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if h.logs(ctx, record.Level) {
		errs = append(errs, h.primary.Handle(ctx, record))
	}
	if h.mirrors(ctx, record.Level) {
		errs = append(errs, h.secondary.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}

func (h *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *dualHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *dualHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	out := &dualHandler{}
	if h.primary != nil {
		out.primary = fn(h.primary)
	}
	if h.secondary != nil {
		out.secondary = fn(h.secondary)
	}
	return out
}
