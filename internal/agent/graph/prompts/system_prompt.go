package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/model"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

// RenderSystem renders the default system prompt, or returns override when
// the request supplied one.
func RenderSystem(ctx context.Context, config model.PromptConfig, override string, toolsEnabled bool) (string, error) {
	if o := strings.TrimSpace(override); o != "" {
		return o, nil
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": config.AssistantName,
		"Persona":       config.Persona,
		"ToolsEnabled":  toolsEnabled,
	})
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

// SummaryContextPrefix introduces an injected conversation summary.
const SummaryContextPrefix = "Context from previous conversation: "

// ContextBlock wraps a summary so it is never confused with reply text.
func ContextBlock(summary string) string {
	return SummaryContextPrefix + strings.TrimSpace(summary)
}

// RetrievalBlock wraps retrieved documents for the model.
func RetrievalBlock(retrieved string) string {
	return "Relevant reference material:\n" + retrieved + "\n(End of reference material.)"
}

// WrapUpNotice instructs the model to answer without further tool calls.
func WrapUpNotice(maxToolCalls int) string {
	return fmt.Sprintf(
		"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
			"Do not call any more tools. Synthesize a helpful response using the information you've already gathered, "+
			"and acknowledge any limitations if you couldn't complete all necessary tool calls.",
		maxToolCalls,
	)
}
