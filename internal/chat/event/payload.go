package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the typed view of an event's free-form data map. The set of
// implementations is closed; anything unrecognised decodes to OpaqueData.
type Payload interface {
	payload()
}

// TaskStartedData accompanies task_started.
type TaskStartedData struct {
	Tools []string
}

// ProgressData accompanies task_progress and legacy progress.
type ProgressData struct {
	Stage      string
	Decision   string
	Message    string
	Percentage *float64
}

// IsRouting reports whether the progress update describes the routing stage.
func (p ProgressData) IsRouting() bool {
	return strings.EqualFold(p.Stage, "routing")
}

// TaskCompletedData accompanies task_completed and completed.
type TaskCompletedData struct {
	Result       string
	DurationMs   *int64
	InputTokens  *int64
	OutputTokens *int64
	CostUSD      *float64
}

// TaskFailedData accompanies task_failed and legacy error.
type TaskFailedData struct {
	Code        string
	Message     string
	Recoverable bool
}

// ToolCallData accompanies tool_call and legacy tool.
type ToolCallData struct {
	Tool      string
	ToolUseID string
	Input     map[string]any
}

// ToolResultData accompanies tool_result.
type ToolResultData struct {
	Tool      string
	ToolUseID string
	Output    string
	Success   bool
}

// SubagentData accompanies subagent_start and subagent_stop.
type SubagentData struct {
	Type string
}

// RoutingData accompanies routing_decision.
type RoutingData struct {
	Decision string
	Reason   string
}

// OpaqueData carries payloads with no expected shape.
type OpaqueData struct {
	Raw map[string]any
}

func (TaskStartedData) payload()   {}
func (ProgressData) payload()      {}
func (TaskCompletedData) payload() {}
func (TaskFailedData) payload()    {}
func (ToolCallData) payload()      {}
func (ToolResultData) payload()    {}
func (SubagentData) payload()      {}
func (RoutingData) payload()       {}
func (OpaqueData) payload()        {}

// Payload decodes Data into the variant expected for the event's canonical type.
func (e Event) Payload() Payload {
	d := e.Data
	switch e.Type.Canonical() {
	case TypeTaskStarted:
		return TaskStartedData{Tools: stringSlice(d, "tools", "availableTools")}
	case TypeTaskProgress:
		return ProgressData{
			Stage:      str(d, "stage", "phase"),
			Decision:   str(d, "decision", "routedTo", "agent"),
			Message:    str(d, "message", "status"),
			Percentage: float(d, "percentage", "progress", "percent"),
		}
	case TypeCompleted, TypeTaskCompleted:
		out := TaskCompletedData{
			Result:       text(d, "result", "response", "content"),
			DurationMs:   integer(d, "durationMs", "duration_ms"),
			InputTokens:  integer(d, "inputTokens", "input_tokens"),
			OutputTokens: integer(d, "outputTokens", "output_tokens"),
			CostUSD:      float(d, "costUsd", "cost_usd", "totalCostUsd"),
		}
		if usage, ok := d["usage"].(map[string]any); ok {
			if out.InputTokens == nil {
				out.InputTokens = integer(usage, "inputTokens", "input_tokens")
			}
			if out.OutputTokens == nil {
				out.OutputTokens = integer(usage, "outputTokens", "output_tokens")
			}
		}
		return out
	case TypeTaskFailed:
		msg := strings.TrimSpace(e.Error)
		if msg == "" {
			msg = str(d, "error", "message")
		}
		if msg == "" {
			msg = strings.TrimSpace(e.Content)
		}
		return TaskFailedData{
			Code:        str(d, "code", "errorCode", "error_code"),
			Message:     msg,
			Recoverable: boolean(d, false, "recoverable", "retryable"),
		}
	case TypeToolCall:
		input, _ := firstMap(d, "input", "args", "arguments")
		return ToolCallData{
			Tool:      str(d, "tool", "toolName", "name"),
			ToolUseID: str(d, "toolUseId", "tool_use_id", "id"),
			Input:     input,
		}
	case TypeToolResult:
		success := boolean(d, true, "success")
		if boolean(d, false, "isError", "is_error") {
			success = false
		}
		return ToolResultData{
			Tool:      str(d, "tool", "toolName", "name"),
			ToolUseID: str(d, "toolUseId", "tool_use_id", "id"),
			Output:    text(d, "output", "result", "content"),
			Success:   success,
		}
	case TypeSubagentStart, TypeSubagentStop:
		return SubagentData{Type: str(d, "subagentType", "agentType", "type", "name")}
	case TypeRoutingDecision:
		return RoutingData{
			Decision: str(d, "decision", "agent", "targetAgent", "routedTo"),
			Reason:   str(d, "reason", "rationale"),
		}
	}
	return OpaqueData{Raw: d}
}

func str(d map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := d[k].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// text is like str but also accepts structured values, which are rendered as
// compact JSON.
func text(d map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := d[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		default:
			raw, err := json.Marshal(val)
			if err == nil {
				return string(raw)
			}
			return fmt.Sprint(val)
		}
	}
	return ""
}

func float(d map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := d[k].(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		}
	}
	return nil
}

func integer(d map[string]any, keys ...string) *int64 {
	if f := float(d, keys...); f != nil {
		n := int64(*f)
		return &n
	}
	return nil
}

func boolean(d map[string]any, fallback bool, keys ...string) bool {
	for _, k := range keys {
		if v, ok := d[k].(bool); ok {
			return v
		}
	}
	return fallback
}

func firstMap(d map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if m, ok := d[k].(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

func stringSlice(d map[string]any, keys ...string) []string {
	for _, k := range keys {
		items, ok := d[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case map[string]any:
				if name := str(v, "name", "tool"); name != "" {
					out = append(out, name)
				}
			}
		}
		return out
	}
	return nil
}
