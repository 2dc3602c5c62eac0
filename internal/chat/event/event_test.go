package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUsesEnvelopeType(t *testing.T) {
	evt, err := Decode("message", []byte(`{"type":"task_output","content":"A","taskId":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeTaskOutput, evt.Type)
	assert.Equal(t, "A", evt.Content)
	assert.Equal(t, "t1", evt.TaskID)
}

func TestDecodeFallsBackToSSEName(t *testing.T) {
	evt, err := Decode("tool_call", []byte(`{"data":{"tool":"Read"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeToolCall, evt.Type)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"content":"x"}`, `[1,2]`} {
		_, err := Decode("", []byte(raw))
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestLegacyTypesMapOneToOne(t *testing.T) {
	assert.Equal(t, TypeTaskProgress, TypeProgress.Canonical())
	assert.Equal(t, TypeTaskOutput, TypeOutput.Canonical())
	assert.Equal(t, TypeToolCall, TypeTool.Canonical())
	assert.Equal(t, TypeTaskFailed, TypeError.Canonical())
	assert.Equal(t, TypeAgentEvent, TypeAgentEvent.Canonical())
	assert.True(t, TypeAgentEvent.IsLegacy())
	assert.False(t, TypeTaskOutput.IsLegacy())
}

func TestIsTerminal(t *testing.T) {
	for _, typ := range []Type{TypeCompleted, TypeTaskCompleted, TypeTaskFailed, TypeTaskCancelled, TypeError} {
		assert.True(t, typ.IsTerminal(), typ)
	}
	for _, typ := range []Type{TypeStarted, TypeTaskOutput, TypeToolCall, TypeProgress, TypeAgentEvent} {
		assert.False(t, typ.IsTerminal(), typ)
	}
}

func TestPayloadVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Payload
	}{
		{
			name: "task started tools",
			raw:  `{"type":"task_started","data":{"tools":["Read",{"name":"Bash"}]}}`,
			want: TaskStartedData{Tools: []string{"Read", "Bash"}},
		},
		{
			name: "routing progress",
			raw:  `{"type":"task_progress","data":{"stage":"routing","decision":"coder"}}`,
			want: ProgressData{Stage: "routing", Decision: "coder"},
		},
		{
			name: "tool call",
			raw:  `{"type":"tool_call","data":{"tool":"Read","toolUseId":"t1","input":{"file_path":"/a"}}}`,
			want: ToolCallData{Tool: "Read", ToolUseID: "t1", Input: map[string]any{"file_path": "/a"}},
		},
		{
			name: "legacy tool",
			raw:  `{"type":"tool","data":{"name":"Grep","args":{"pattern":"x"}}}`,
			want: ToolCallData{Tool: "Grep", Input: map[string]any{"pattern": "x"}},
		},
		{
			name: "tool result error flag",
			raw:  `{"type":"tool_result","data":{"tool":"Bash","tool_use_id":"t2","output":"boom","is_error":true}}`,
			want: ToolResultData{Tool: "Bash", ToolUseID: "t2", Output: "boom", Success: false},
		},
		{
			name: "tool result structured output",
			raw:  `{"type":"tool_result","data":{"tool":"Read","output":{"lines":2}}}`,
			want: ToolResultData{Tool: "Read", Output: `{"lines":2}`, Success: true},
		},
		{
			name: "legacy error",
			raw:  `{"type":"error","error":"boom","data":{"code":"E1","recoverable":true}}`,
			want: TaskFailedData{Code: "E1", Message: "boom", Recoverable: true},
		},
		{
			name: "subagent",
			raw:  `{"type":"subagent_stop","data":{"subagentType":"reviewer"}}`,
			want: SubagentData{Type: "reviewer"},
		},
		{
			name: "routing decision",
			raw:  `{"type":"routing_decision","data":{"agent":"planner","reason":"multi-step"}}`,
			want: RoutingData{Decision: "planner", Reason: "multi-step"},
		},
		{
			name: "agent event is opaque",
			raw:  `{"type":"agent_event","data":{"anything":1}}`,
			want: OpaqueData{Raw: map[string]any{"anything": float64(1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode("", []byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.Payload())
		})
	}
}

func TestTaskCompletedPayloadReadsUsage(t *testing.T) {
	evt, err := Decode("", []byte(`{"type":"task_completed","data":{"result":"done","durationMs":1500,`+
		`"usage":{"input_tokens":10,"output_tokens":20},"costUsd":0.01}}`))
	require.NoError(t, err)

	p, ok := evt.Payload().(TaskCompletedData)
	require.True(t, ok)
	assert.Equal(t, "done", p.Result)
	require.NotNil(t, p.DurationMs)
	assert.Equal(t, int64(1500), *p.DurationMs)
	require.NotNil(t, p.InputTokens)
	assert.Equal(t, int64(10), *p.InputTokens)
	require.NotNil(t, p.OutputTokens)
	assert.Equal(t, int64(20), *p.OutputTokens)
	require.NotNil(t, p.CostUSD)
	assert.InDelta(t, 0.01, *p.CostUSD, 1e-9)
}

func TestConnectionLost(t *testing.T) {
	evt := ConnectionLost("EOF")
	assert.Equal(t, TypeError, evt.Type)
	assert.Equal(t, "connection lost: EOF", evt.Error)
	assert.True(t, evt.Type.IsTerminal())
}
