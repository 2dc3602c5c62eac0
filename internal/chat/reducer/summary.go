package reducer

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"

	"github.com/kong/agentchat/internal/chat/event"
)

const (
	previewWidth      = 60
	inlineResultWidth = 200
)

// Input fields worth showing for a tool call, in priority order.
var previewFields = []string{"file_path", "path", "pattern", "command", "query", "url"}

func inputPreview(input map[string]any) string {
	for _, key := range previewFields {
		v, ok := input[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if key == "command" {
			v, _, _ = strings.Cut(v, "\n")
		}
		return clip(strings.TrimSpace(v), previewWidth)
	}
	return ""
}

func resultSummary(tool, output string, success bool) string {
	status := "ok"
	if !success {
		status = "failed"
	}
	output = strings.TrimSpace(output)
	switch {
	case output == "":
		return fmt.Sprintf("%s %s", tool, status)
	case len([]rune(output)) > inlineResultWidth:
		lines := strings.Count(output, "\n") + 1
		return fmt.Sprintf("%s %s: %d lines, %d chars", tool, status, lines, len([]rune(output)))
	default:
		return fmt.Sprintf("%s %s: %s", tool, status, clip(oneLine(output), previewWidth))
	}
}

func completionSummary(agent string, p event.TaskCompletedData) string {
	if agent == "" {
		agent = "Agent"
	}
	var parts []string
	if p.DurationMs != nil {
		d := time.Duration(*p.DurationMs) * time.Millisecond
		parts = append(parts, d.Round(100*time.Millisecond).String())
	}
	if p.InputTokens != nil || p.OutputTokens != nil {
		var in, out int64
		if p.InputTokens != nil {
			in = *p.InputTokens
		}
		if p.OutputTokens != nil {
			out = *p.OutputTokens
		}
		parts = append(parts, fmt.Sprintf("%d in / %d out tokens", in, out))
	}
	if p.CostUSD != nil {
		parts = append(parts, fmt.Sprintf("$%.4f", *p.CostUSD))
	}
	if len(parts) == 0 {
		return agent + " completed the task"
	}
	return fmt.Sprintf("%s completed the task (%s)", agent, strings.Join(parts, ", "))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, width int) string {
	return truncate.StringWithTail(s, uint(width), "…")
}
