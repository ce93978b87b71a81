package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/summary_prompt.txt
var summarySystemPrompt string

// RenderSummary builds the summarization request for a transcript of older
// messages, extending previous when a rolling summary already exists.
func RenderSummary(ctx context.Context, previous, transcript string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage("Transcript to summarize:\n{{.Transcript}}"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Previous":   previous,
		"Transcript": transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("summary prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("summary prompt render: unexpected %d messages", len(msgs))
	}
	return msgs, nil
}
