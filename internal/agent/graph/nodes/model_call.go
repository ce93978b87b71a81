package nodes

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/graph/prompts"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

type modelCallStep struct {
	spec         graph.ModelCall
	chat         einomodel.BaseChatModel
	prompt       model.PromptConfig
	toolsEnabled bool
}

func (s *modelCallStep) Kind() graph.NodeKind { return graph.NodeModelCall }

func (s *modelCallStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	input, err := buildPrompt(ctx, state, s.prompt, s.spec.SystemPrompt, s.toolsEnabled)
	if err != nil {
		return graph.Outcome{}, err
	}

	logx.Ctx(ctx).Debug().Int("input_messages", len(input)).Bool("tools", s.toolsEnabled).Msg("AI thinking...")

	msg, err := generate(ctx, s.chat, input, callOptions(s.spec.Temperature, s.spec.MaxTokens)...)
	if err != nil {
		return graph.Outcome{}, fmt.Errorf("model call: %w", err)
	}
	msg.Role = schema.Assistant
	if !s.toolsEnabled {
		msg.ToolCalls = nil
	}
	normalizeToolCalls(msg, len(state.Messages))
	state.Append(msg)

	var out graph.Outcome
	if u, ok := parsers.MessageUsage(msg); ok {
		out.Usage = u.Map()
	}
	return out, nil
}

// buildPrompt assembles system prompt, summary block, retrieval block and the
// verbatim window, in that order.
func buildPrompt(ctx context.Context, state *model.ConversationState, cfg model.PromptConfig, override string, toolsEnabled bool) ([]*schema.Message, error) {
	sys, err := prompts.RenderSystem(ctx, cfg, override, toolsEnabled)
	if err != nil {
		return nil, err
	}
	input := []*schema.Message{schema.SystemMessage(sys)}

	_, memoryFailed := state.ErrorState[string(graph.NodeManageMemory)]
	if summary := strings.TrimSpace(state.ConversationSummary); summary != "" && !memoryFailed {
		input = append(input, schema.SystemMessage(prompts.ContextBlock(summary)))
	}
	if rc := strings.TrimSpace(state.RetrievalContext); rc != "" {
		input = append(input, schema.SystemMessage(prompts.RetrievalBlock(rc)))
	}
	return append(input, contextWindow(state)...), nil
}

// normalizeToolCalls fills missing ids so every tool result can be matched to
// its call.
func normalizeToolCalls(msg *schema.Message, position int) {
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		if strings.TrimSpace(tc.ID) == "" {
			tc.ID = fmt.Sprintf("call_%d_%d", position, i)
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
	}
}
