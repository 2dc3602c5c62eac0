// Package render turns conversation content into terminal text.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"

	"github.com/kong/agentchat/internal/chat/message"
)

var (
	renderers   = map[Options]*glamour.TermRenderer{}
	renderersMu sync.Mutex
)

// Options controls rendering behaviour.
type Options struct {
	NoColor bool
	Width   int
}

// Markdown renders the provided Markdown string tailored for terminal output.
// The input is returned unchanged if rendering fails.
func Markdown(markdown string, opts Options) string {
	if strings.TrimSpace(markdown) == "" {
		return markdown
	}
	r, err := rendererFor(opts)
	if err != nil {
		return markdown
	}
	str, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return normalizeSpacing(str)
}

// Message renders one conversation entry with a sender prefix. Replies from the
// agent are rendered as Markdown; everything else is word wrapped plain text.
func Message(msg message.Message, opts Options) string {
	switch msg.Sender {
	case message.SenderOther:
		body := Markdown(msg.Content, opts)
		if msg.Status == message.StatusError && msg.Error != nil && !strings.Contains(msg.Content, msg.Error.Message) {
			body += "\n" + wrap("Error: "+msg.Error.Message, opts.Width)
		}
		return body
	case message.SenderSystem:
		return wrap("! "+msg.Content, opts.Width)
	default:
		line := "> " + msg.Content
		if msg.Status == message.StatusError {
			line += " (failed to send)"
		}
		return wrap(line, opts.Width)
	}
}

// Transcript renders a whole log, separating entries with blank lines.
func Transcript(log message.Log, opts Options) string {
	parts := make([]string, 0, len(log))
	for _, msg := range log {
		if msg.Sender == message.SenderOther && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		parts = append(parts, Message(msg, opts))
	}
	return strings.Join(parts, "\n\n")
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wordwrap.String(s, width)
}

func normalizeSpacing(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
		if i == 0 {
			lines[i] = strings.TrimLeft(lines[i], " ")
		}
	}
	return strings.Join(lines, "\n")
}

func rendererFor(opts Options) (*glamour.TermRenderer, error) {
	renderersMu.Lock()
	defer renderersMu.Unlock()

	if r, ok := renderers[opts]; ok {
		return r, nil
	}

	options := []glamour.TermRendererOption{}
	if opts.NoColor {
		options = append(options,
			glamour.WithStandardStyle("notty"),
			glamour.WithColorProfile(termenv.Ascii),
		)
	} else {
		options = append(options,
			glamour.WithAutoStyle(),
			glamour.WithColorProfile(termenv.TrueColor),
		)
	}
	if opts.Width > 0 {
		options = append(options, glamour.WithWordWrap(opts.Width))
	}

	r, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	renderers[opts] = r
	return r, nil
}
