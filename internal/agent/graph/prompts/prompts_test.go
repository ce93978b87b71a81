package prompts

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/model"
)

func TestRenderSystem(t *testing.T) {
	cfg := model.PromptConfig{AssistantName: "Chative", Persona: "a helpful assistant"}

	out, err := RenderSystem(context.Background(), cfg, "", true)
	require.NoError(t, err)
	assert.Contains(t, out, "You are Chative, a helpful assistant.")
	assert.Contains(t, out, "call the available tools")

	out, err = RenderSystem(context.Background(), cfg, "", false)
	require.NoError(t, err)
	assert.NotContains(t, out, "call the available tools")

	out, err = RenderSystem(context.Background(), cfg, "  Be a pirate. ", false)
	require.NoError(t, err)
	assert.Equal(t, "Be a pirate.", out)
}

func TestRenderSummaryKeepsTranscriptVerbatim(t *testing.T) {
	transcript := "user: what is {{.Secret}}?\nassistant: no idea"
	msgs, err := RenderSummary(context.Background(), "Summary: earlier facts", transcript)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Summary: earlier facts")
	assert.Equal(t, "Transcript to summarize:\n"+transcript, msgs[1].Content)
}

func TestContextBlock(t *testing.T) {
	assert.Equal(t, "Context from previous conversation: Summary: x", ContextBlock(" Summary: x "))
}
