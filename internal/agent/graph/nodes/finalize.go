package nodes

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/graph/prompts"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

type finalizeStep struct {
	spec   graph.FinalizeResponse
	chat   einomodel.BaseChatModel
	prompt model.PromptConfig
}

func (s *finalizeStep) Kind() graph.NodeKind { return graph.NodeFinalizeResponse }

// Run closes a run whose tool budget is spent: unanswered calls get a skipped
// result, then the model writes a final answer without tools. The appended
// message is never empty and never carries tool calls.
func (s *finalizeStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	max := normalizeMaxToolCalls(s.spec.MaxToolCalls)
	for _, tc := range graph.PendingToolCalls(state) {
		state.Append(schema.ToolMessage(graph.ToolSkippedResult(tc.Function.Name), tc.ID))
	}

	logx.Ctx(ctx).Warn().
		Int("tool_call_count", state.ToolCallCount).
		Int("max_tool_calls", max).
		Str("conversation_id", state.ConversationID).
		Msg("Tool call limit reached - synthesizing final response")

	input, err := buildPrompt(ctx, state, s.prompt, "", false)
	if err != nil {
		return graph.Outcome{}, err
	}
	input = append(input, schema.SystemMessage(prompts.WrapUpNotice(max)))

	var out graph.Outcome
	msg, err := generate(ctx, s.chat, input)
	if err != nil {
		if ctx.Err() != nil || graph.Stopped(err) {
			return graph.Outcome{}, err
		}
		logx.Ctx(ctx).Warn().Err(err).Msg("Wrap-up call failed; using fallback reply")
		msg = nil
	}
	if msg != nil {
		if u, ok := parsers.MessageUsage(msg); ok {
			out.Usage = u.Map()
		}
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		msg = schema.AssistantMessage(graph.FinalizeErrorReply, nil)
	}
	msg.Role = schema.Assistant
	msg.ToolCalls = nil
	state.Append(msg)
	return out, nil
}
