package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
)

// NewFriendlyErrorHandler returns a slog.Handler that renders error records in a
// concise, human-friendly format suitable for console output.
func NewFriendlyErrorHandler(w io.Writer) slog.Handler {
	return &friendlyHandler{w: w}
}

type friendlyHandler struct {
	w      io.Writer
	attrs  []slog.Attr
	groups []string
}

type attrEntry struct {
	key   string
	value string
}

func (h *friendlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

// consoleHidden lists attributes that only make sense in the log file.
var consoleHidden = map[string]bool{
	"command_path": true,
	"session_id":   true,
	"stack":        true,
}

func (h *friendlyHandler) Handle(_ context.Context, record slog.Record) error {
	entries := h.collectEntries(record)

	summary := strings.TrimSpace(record.Message)
	var cause, suggestion string
	others := make([]attrEntry, 0, len(entries))
	for _, entry := range entries {
		switch {
		case entry.value == "" || consoleHidden[entry.key]:
		case entry.key == "error":
			cause = entry.value
		case entry.key == "suggestion":
			suggestion = entry.value
		default:
			others = append(others, entry)
		}
	}

	switch {
	case summary == "" && cause == "":
		summary = "an unknown error occurred"
	case summary == "":
		summary, cause = cause, ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", summary)
	if cause != "" && cause != summary {
		writeEntry(&sb, attrEntry{key: "cause", value: cause})
	}
	if suggestion != "" {
		fmt.Fprintf(&sb, "  suggestion: %s\n", suggestion)
	}

	sort.SliceStable(others, func(i, j int) bool {
		return others[i].key < others[j].key
	})
	for _, entry := range others {
		writeEntry(&sb, entry)
	}

	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *friendlyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(slices.Clip(h.attrs), attrs...)
	return &next
}

func (h *friendlyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(slices.Clip(h.groups), name)
	return &next
}

// collectEntries flattens handler and record attributes into dotted keys.
// Groups expand into one entry per member.
func (h *friendlyHandler) collectEntries(record slog.Record) []attrEntry {
	prefix := strings.Join(h.groups, ".")
	entries := make([]attrEntry, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		entries = flatten(entries, prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		entries = flatten(entries, prefix, attr)
		return true
	})
	return entries
}

func flatten(dst []attrEntry, prefix string, attr slog.Attr) []attrEntry {
	val := attr.Value.Resolve()
	key := attr.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if val.Kind() != slog.KindGroup {
		return append(dst, attrEntry{key: key, value: formatValue(val)})
	}
	for _, member := range val.Group() {
		dst = flatten(dst, key, member)
	}
	return dst
}

func formatValue(val slog.Value) string {
	if val.Kind() != slog.KindAny {
		return val.String()
	}
	switch raw := val.Any().(type) {
	case error:
		return raw.Error()
	case fmt.Stringer:
		return raw.String()
	default:
		return fmt.Sprint(raw)
	}
}

// writeEntry prints key: value, continuing multi-line values on indented
// lines and skipping blank ones.
func writeEntry(sb *strings.Builder, entry attrEntry) {
	first, rest, _ := strings.Cut(strings.TrimSpace(entry.value), "\n")
	fmt.Fprintf(sb, "  %s: %s\n", entry.key, strings.TrimSpace(first))
	for line := range strings.Lines(rest) {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(sb, "    %s\n", line)
		}
	}
}
