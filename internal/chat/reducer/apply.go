package reducer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/chat/message"
)

// Apply folds one inbound event into the state. Events that arrive while idle
// only leave a trace in the activity log. Terminal events that arrive before
// the pending send is acknowledged are held back and replayed, in order, right
// after SendSucceeded.
func (r *Reducer) Apply(evt event.Event) {
	if r.isRetired(evt) {
		return
	}
	ex := r.ex
	if ex == nil {
		if evt.Type != "" {
			r.logActivity(ActivityInfo, fmt.Sprintf("Ignored %s event: no message in flight", evt.Type))
		}
		return
	}
	if ex.phase == PhaseAwaiting && (evt.Type.IsTerminal() || len(ex.deferred) > 0) {
		ex.deferred = append(ex.deferred, evt)
		return
	}

	switch evt.Type.Canonical() {
	case event.TypeStarted:
		r.onStarted(evt)
	case event.TypeCompleted:
		r.onCompleted(evt)
	case event.TypeTaskStarted:
		r.onTaskStarted(evt)
	case event.TypeTaskProgress:
		r.onTaskProgress(evt)
	case event.TypeTaskOutput:
		r.appendOutput(evt.Text())
	case event.TypeTaskCompleted:
		r.onTaskCompleted(evt)
	case event.TypeTaskFailed:
		r.onTaskFailed(evt)
	case event.TypeTaskCancelled:
		r.logActivity(ActivityCancelled, "Task cancelled")
		r.finish()
	case event.TypeToolCall:
		r.onToolCall(evt)
	case event.TypeToolResult:
		r.onToolResult(evt)
	case event.TypeSubagentStart, event.TypeSubagentStop:
		r.onSubagent(evt)
	case event.TypeRoutingDecision:
		r.onRoutingDecision(evt)
	case event.TypeAgentEvent:
		r.logActivity(ActivityAgentEvent, verbatim(evt))
	}
}

// isRetired reports whether evt belongs to a conversation or task dropped by
// Clear. Empty ids are never retired.
func (r *Reducer) isRetired(evt event.Event) bool {
	if _, ok := r.retiredConversations[evt.ConversationID]; ok {
		return true
	}
	_, ok := r.retiredTasks[evt.TaskID]
	return ok
}

func (r *Reducer) onStarted(evt event.Event) {
	agent := evt.Agent()
	if agent == "" {
		r.ex.typingLabel = labelProcessing
		r.logActivity(ActivityStarted, "Processing started")
		return
	}
	r.ex.typingLabel = agent + " is processing…"
	r.logActivity(ActivityStarted, agent+" started processing")
}

func (r *Reducer) onCompleted(evt event.Event) {
	content := evt.Text()
	if p, ok := evt.Payload().(event.TaskCompletedData); ok && content == "" {
		content = p.Result
	}
	r.fillPlaceholder(content)
	r.logActivity(ActivityCompleted, "Response complete")
	r.finish()
}

func (r *Reducer) onTaskStarted(evt event.Event) {
	if evt.TaskID != "" {
		r.ex.taskID = evt.TaskID
	}
	agent := evt.Agent()
	if agent != "" {
		r.ex.agentName = agent
	} else {
		agent = "Agent"
	}
	r.ex.typingLabel = agent + " working…"

	text := agent + " started working"
	if evt.TaskID != "" {
		text = fmt.Sprintf("%s started task %s", agent, evt.TaskID)
	}
	r.logActivity(ActivityStarted, text)
	if p, ok := evt.Payload().(event.TaskStartedData); ok && len(p.Tools) > 0 {
		r.logActivity(ActivityInfo, "Available tools: "+strings.Join(p.Tools, ", "))
	}
}

func (r *Reducer) onTaskProgress(evt event.Event) {
	p, _ := evt.Payload().(event.ProgressData)
	switch {
	case p.IsRouting():
		decision := p.Decision
		if decision == "" {
			decision = strings.TrimSpace(evt.Content)
		}
		r.routeTo(decision)
	case p.Message != "":
		r.ex.typingLabel = p.Message
		text := p.Message
		if p.Percentage != nil {
			text = fmt.Sprintf("%s (%.0f%%)", text, *p.Percentage)
		}
		r.logActivity(ActivityProgress, text)
	case strings.TrimSpace(evt.Content) != "":
		content := strings.TrimSpace(evt.Content)
		r.ex.typingLabel = content
		r.logActivity(ActivityProgress, content)
	}
}

func (r *Reducer) onRoutingDecision(evt event.Event) {
	p, _ := evt.Payload().(event.RoutingData)
	decision := p.Decision
	if decision == "" {
		decision = evt.Agent()
	}
	r.routeTo(decision)
	if p.Reason != "" {
		r.logActivity(ActivityRouting, "Reason: "+p.Reason)
	}
}

func (r *Reducer) routeTo(decision string) {
	if decision == "" {
		r.ex.typingLabel = labelRouting
		r.logActivity(ActivityRouting, "Routing request")
		return
	}
	r.ex.typingLabel = "Routing to " + decision + "…"
	r.logActivity(ActivityRouting, "Routing to "+decision)
}

func (r *Reducer) onTaskCompleted(evt event.Event) {
	p, _ := evt.Payload().(event.TaskCompletedData)
	content := p.Result
	if content == "" {
		content = evt.Content
	}
	r.fillPlaceholder(content)
	r.logActivity(ActivityCompleted, completionSummary(r.ex.agentName, p))
	r.finish()
}

func (r *Reducer) onTaskFailed(evt event.Event) {
	p, _ := evt.Payload().(event.TaskFailedData)
	text := p.Message
	if text == "" {
		text = "unknown error"
	}

	if id := r.ex.placeholderID; id != "" {
		r.messages = message.AppendContent(r.messages, id, "\n\nError: "+text)
		code := p.Code
		if code == "" {
			code = "task_failed"
		}
		r.messages = message.UpdateError(r.messages, id, message.ErrorInfo{
			Code:      code,
			Message:   text,
			Retryable: p.Recoverable,
		})
	} else {
		r.Notice("Error: " + text)
	}

	logged := "Task failed: " + text
	if p.Code != "" {
		logged = fmt.Sprintf("Task failed [%s]: %s", p.Code, text)
	}
	r.logActivity(ActivityError, logged)
	r.finish()
}

func (r *Reducer) onToolCall(evt event.Event) {
	p, _ := evt.Payload().(event.ToolCallData)
	tool := p.Tool
	if tool == "" {
		tool = "tool"
	}
	r.ex.typingLabel = "Using " + tool + "…"
	r.tools = append(r.tools, ToolCall{
		Tool:      tool,
		Input:     p.Input,
		ToolUseID: p.ToolUseID,
	})

	text := tool
	if preview := inputPreview(p.Input); preview != "" {
		text = tool + ": " + preview
	}
	r.logActivity(ActivityToolCall, text)
}

// onToolResult matches by tool use id first. When the result has no id, or
// the id matches no call, it falls back to the first unmatched call with the
// same tool name. The name fallback can misattribute results when several
// same-named calls without ids overlap.
func (r *Reducer) onToolResult(evt event.Event) {
	p, _ := evt.Payload().(event.ToolResultData)
	idx := r.matchToolCall(p)
	if idx < 0 {
		return
	}

	tools := make([]ToolCall, len(r.tools))
	copy(tools, r.tools)
	success := p.Success
	tools[idx].Output = p.Output
	tools[idx].Success = &success
	r.tools = tools

	r.logActivity(ActivityToolResult, resultSummary(tools[idx].Tool, p.Output, success))
}

func (r *Reducer) matchToolCall(p event.ToolResultData) int {
	if p.ToolUseID != "" {
		for i := range r.tools {
			if r.tools[i].ToolUseID == p.ToolUseID {
				return i
			}
		}
	}
	if p.Tool == "" {
		return -1
	}
	for i := range r.tools {
		if r.tools[i].Tool == p.Tool && !r.tools[i].Matched() {
			return i
		}
	}
	return -1
}

func (r *Reducer) onSubagent(evt event.Event) {
	p, _ := evt.Payload().(event.SubagentData)
	kind := p.Type
	if kind == "" {
		kind = "general"
	}
	if evt.Type == event.TypeSubagentStart {
		r.ex.typingLabel = "Running " + kind + " subagent…"
		r.logActivity(ActivitySubagent, "Subagent "+kind+" started")
		return
	}
	if r.ex.agentName != "" {
		r.ex.typingLabel = r.ex.agentName + " working…"
	} else {
		r.ex.typingLabel = labelProcessing
	}
	r.logActivity(ActivitySubagent, "Subagent "+kind+" finished")
}

func (r *Reducer) appendOutput(chunk string) {
	if chunk == "" {
		return
	}
	if r.ex.placeholderID == "" {
		r.ex.early += chunk
		return
	}
	r.messages = message.AppendContent(r.messages, r.ex.placeholderID, chunk)
}

// fillPlaceholder sets the final content only while the placeholder is still
// empty, so a repeated completion event never duplicates text.
func (r *Reducer) fillPlaceholder(content string) {
	if content == "" || r.ex.placeholderID == "" {
		return
	}
	msg, ok := message.Find(r.messages, r.ex.placeholderID)
	if !ok || msg.Content != "" {
		return
	}
	r.messages = message.ReplaceContent(r.messages, r.ex.placeholderID, content)
}

func verbatim(evt event.Event) string {
	if len(evt.Data) > 0 {
		if raw, err := json.Marshal(evt.Data); err == nil {
			return string(raw)
		}
	}
	if evt.Content != "" {
		return evt.Content
	}
	return string(evt.Type)
}
