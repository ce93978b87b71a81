package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
)

func registry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(model.DefaultLimits(), opts...)
	require.NoError(t, err)
	return r
}

func TestBuildProfiles(t *testing.T) {
	r := registry(t)
	tests := []struct {
		kind      model.WorkflowKind
		window    int
		toolCap   int
		docCap    int
		retrieval bool
		tools     bool
	}{
		{model.KindPlain, 20, 0, 0, false, false},
		{model.KindRetrieval, 30, 0, 10, true, false},
		{model.KindTools, 100, 10, 0, false, true},
		{model.KindFull, 50, 5, 10, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cfg, limits, err := r.Build(tt.kind, model.ChatRequest{Message: "hi"})
			require.NoError(t, err)
			assert.Equal(t, model.DefaultLimits(), limits)
			assert.Equal(t, string(tt.kind), cfg.Name)
			assert.Equal(t, graph.NodeManageMemory, cfg.Entry)
			assert.Equal(t, tt.window, cfg.Nodes[graph.NodeManageMemory].(graph.ManageMemory).Window)
			assert.Equal(t, tt.retrieval, cfg.Has(graph.NodeRetrieveContext))
			assert.Equal(t, tt.tools, cfg.Has(graph.NodeExecuteTools))
			assert.Equal(t, tt.tools, cfg.Has(graph.NodeFinalizeResponse))
			assert.Equal(t, tt.toolCap, cfg.MaxToolCalls)
			assert.Equal(t, graph.MaxStepsFor(tt.toolCap), cfg.MaxSteps)
			if tt.retrieval {
				assert.Equal(t, tt.docCap, cfg.Nodes[graph.NodeRetrieveContext].(graph.RetrieveContext).MaxDocuments)
			}
		})
	}
}

func TestBuildHonoursRequest(t *testing.T) {
	r := registry(t)
	temp := float32(0.7)
	maxTokens := 128
	disabled := false

	cfg, _, err := r.Build(model.KindFull, model.ChatRequest{
		SystemPrompt:    "Be brief.",
		Temperature:     &temp,
		MaxTokens:       &maxTokens,
		EnableRetrieval: &disabled,
	})
	require.NoError(t, err)
	assert.False(t, cfg.Has(graph.NodeRetrieveContext))
	assert.Equal(t, graph.NodeModelCall, cfg.Edges[graph.NodeManageMemory])

	mc := cfg.Nodes[graph.NodeModelCall].(graph.ModelCall)
	assert.Equal(t, "Be brief.", mc.SystemPrompt)
	assert.Equal(t, &temp, mc.Temperature)
	assert.Equal(t, &maxTokens, mc.MaxTokens)
	assert.True(t, mc.ToolsEnabled)

	cfg, _, err = r.Build(model.KindRetrieval, model.ChatRequest{DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, cfg.Nodes[graph.NodeRetrieveContext].(graph.RetrieveContext).DocumentIDs)
}

func TestUnknownKindFallsBackToPlain(t *testing.T) {
	r := registry(t)
	cfg, _, err := r.Build("quantum", model.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, string(model.KindPlain), cfg.Name)

	kind, _ := r.Resolve("RAG")
	assert.Equal(t, model.KindRetrieval, kind)
}

func TestOverrides(t *testing.T) {
	doc := `
limits:
  step_timeout: 15s
  max_concurrent: 2
strategies:
  tools:
    max_tool_calls: 3
  support:
    memory_window: 10
    retrieval: true
    max_documents: 4
`
	r := registry(t, WithOverrides(strings.NewReader(doc)))

	assert.Equal(t, 15*time.Second, r.Limits().StepTimeout)
	assert.Equal(t, 2, r.Limits().MaxConcurrent)
	assert.Equal(t, 300*time.Second, r.Limits().ExecutionTimeout)

	cfg, _, err := r.Build(model.KindTools, model.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxToolCalls)
	assert.Equal(t, 100, cfg.Nodes[graph.NodeManageMemory].(graph.ManageMemory).Window)

	cfg, _, err = r.Build("support", model.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "support", cfg.Name)
	assert.True(t, cfg.Has(graph.NodeRetrieveContext))
	assert.Contains(t, r.Kinds(), model.WorkflowKind("support"))
}

func TestInvalidOverrideIsRejected(t *testing.T) {
	_, err := NewRegistry(model.DefaultLimits(), WithOverrides(strings.NewReader("strategies:\n  tools:\n    max_tool_calls: 0\n")))
	assert.Error(t, err)

	_, err = NewRegistry(model.DefaultLimits(), WithOverridesFile("/does/not/exist.yaml"))
	assert.Error(t, err)
}
