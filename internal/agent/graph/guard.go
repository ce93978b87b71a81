package graph

import (
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/model"
)

// Decision is the tool-call guard's routing outcome after a model call.
type Decision string

const (
	DecisionExecuteTools Decision = "execute_tools"
	DecisionFinalize     Decision = "finalize"
	DecisionEnd          Decision = "end"
)

// Decide routes a model response. It runs before any tool executes, so the
// tool budget is enforced ahead of execution rather than after it.
func Decide(state *model.ConversationState, last *schema.Message, maxToolCalls int) Decision {
	if last == nil || last.Role != schema.Assistant || len(last.ToolCalls) == 0 {
		return DecisionEnd
	}
	if state.ToolCallCount >= maxToolCalls {
		return DecisionFinalize
	}
	return DecisionExecuteTools
}

// PendingToolCalls returns the tool calls of the newest assistant message that
// have no tool result yet.
func PendingToolCalls(state *model.ConversationState) []schema.ToolCall {
	idx := -1
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m != nil && m.Role == schema.Assistant {
			idx = i
			break
		}
	}
	if idx < 0 || len(state.Messages[idx].ToolCalls) == 0 {
		return nil
	}

	answered := map[string]bool{}
	for _, m := range state.Messages[idx+1:] {
		if m != nil && m.Role == schema.Tool {
			answered[m.ToolCallID] = true
		}
	}
	var pending []schema.ToolCall
	for _, tc := range state.Messages[idx].ToolCalls {
		if !answered[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// RemainingToolBudget is how many more tool calls may execute in this run.
func RemainingToolBudget(state *model.ConversationState, maxToolCalls int) int {
	if n := maxToolCalls - state.ToolCallCount; n > 0 {
		return n
	}
	return 0
}
