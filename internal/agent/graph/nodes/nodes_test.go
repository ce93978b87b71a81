package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/prompts"
	"github.com/chative-core/workflow/internal/agent/graph/tools"
	"github.com/chative-core/workflow/internal/agent/memory"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/testutil"
)

func newState(msgs ...*schema.Message) *model.ConversationState {
	s := model.NewConversationState("conv-1", "user-1")
	s.Append(msgs...)
	return s
}

func build(t *testing.T, deps Deps, spec graph.NodeSpec) graph.Step {
	t.Helper()
	if deps.Chat == nil {
		deps.Chat = testutil.NewScriptedModel()
	}
	f, err := NewFactory(deps)
	require.NoError(t, err)
	step, err := f.Build(spec)
	require.NoError(t, err)
	require.Equal(t, spec.Kind(), step.Kind())
	return step
}

func toolSet(t *testing.T, ts ...tool.InvokableTool) *tools.ToolSet {
	t.Helper()
	set, err := tools.NewToolSet(context.Background(), ts...)
	require.NoError(t, err)
	return set
}

func toolCalls(names ...string) []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(names))
	for i, n := range names {
		out = append(out, schema.ToolCall{
			ID:       "call-" + string(rune('a'+i)),
			Type:     "function",
			Function: schema.FunctionCall{Name: n, Arguments: `{"query":"desk"}`},
		})
	}
	return out
}

func TestNewFactoryRequiresChat(t *testing.T) {
	_, err := NewFactory(Deps{})
	assert.Error(t, err)
}

func TestManageMemorySetsWindowAndSummary(t *testing.T) {
	summarizer := testutil.NewScriptedModel(testutil.Reply{Content: "The user is shopping for a desk."})
	step := build(t, Deps{Memory: memory.NewManager(summarizer)}, graph.ManageMemory{Window: 3})

	state := newState(testutil.Conversation(9)...)
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 6, state.ContextStart)
	assert.Len(t, state.ContextMessages(), 3)
	assert.Equal(t, "Summary: The user is shopping for a desk.", state.ConversationSummary)
	assert.NotContains(t, state.ErrorState, "manage_memory")
}

func TestManageMemoryDegradesOnFailure(t *testing.T) {
	summarizer := testutil.NewScriptedModel(testutil.Reply{Err: testutil.ErrScripted})
	step := build(t, Deps{Memory: memory.NewManager(summarizer)}, graph.ManageMemory{Window: 2})

	state := newState(testutil.Conversation(6)...)
	state.ConversationSummary = "Summary: previous facts."
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 4, state.ContextStart)
	assert.Equal(t, "Summary: previous facts.", state.ConversationSummary)
	assert.Contains(t, state.ErrorState, "manage_memory")

	prompt, err := buildPrompt(context.Background(), state, model.PromptConfig{AssistantName: "A", Persona: "b"}, "", false)
	require.NoError(t, err)
	for _, m := range prompt {
		assert.NotContains(t, m.Content, prompts.SummaryContextPrefix)
	}
}

func TestRetrieveContextRunsOncePerTurn(t *testing.T) {
	r := &testutil.FakeRetriever{Docs: []*schema.Document{
		{ID: "a", Content: "Desks ship in 3 days."},
		{ID: "b", Content: "Chairs ship in 5 days."},
		{ID: "c", Content: "Lamps ship in 1 day."},
	}}
	step := build(t, Deps{Retriever: r}, graph.RetrieveContext{MaxDocuments: 2, DocumentIDs: []string{"a", "b"}})

	state := newState(schema.UserMessage(" when do desks ship? "))
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "when do desks ship?", r.LastQuery)
	assert.Equal(t, 2, r.LastK)
	assert.Equal(t, []string{"a", "b"}, r.LastDocIDs)
	assert.Equal(t, "[1] (a) Desks ship in 3 days.\n\n[2] (b) Chairs ship in 5 days.", state.RetrievalContext)

	_, err = step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, r.SearchCount)
}

func TestRetrieveContextReturnsSearchErrors(t *testing.T) {
	r := &testutil.FakeRetriever{Err: errors.New("vector store down")}
	step := build(t, Deps{Retriever: r}, graph.RetrieveContext{MaxDocuments: 3})

	_, err := step.Run(context.Background(), newState(schema.UserMessage("hi")))
	assert.ErrorContains(t, err, "vector store down")
}

func TestModelCallAssemblesPromptInOrder(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{
		Content: "Desks ship in 3 days.",
		Usage:   &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	})
	temp := float32(0.2)
	maxTokens := 256
	step := build(t, Deps{Chat: chat, Prompt: model.PromptConfig{AssistantName: "Chative", Persona: "helpful"}},
		graph.ModelCall{Temperature: &temp, MaxTokens: &maxTokens})

	state := newState(
		schema.ToolMessage("orphan", "old-call"),
		schema.UserMessage("when do desks ship?"),
	)
	state.ConversationSummary = "Summary: user wants a desk."
	state.RetrievalContext = "[1] Desks ship in 3 days."

	out, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 120, out.Usage["total_tokens"])

	input := chat.Calls()[0]
	require.Len(t, input, 4)
	assert.Contains(t, input[0].Content, "You are Chative")
	assert.Equal(t, "Context from previous conversation: Summary: user wants a desk.", input[1].Content)
	assert.Contains(t, input[2].Content, "Desks ship in 3 days.")
	assert.Equal(t, schema.User, input[3].Role)

	opts := chat.Options()[0]
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, temp, *opts.Temperature)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 256, *opts.MaxTokens)

	assert.Equal(t, "Desks ship in 3 days.", state.LastMessage().Content)
	assert.Equal(t, schema.Assistant, state.LastMessage().Role)
}

func TestModelCallBindsToolsAndFillsIDs(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{ToolCalls: []schema.ToolCall{
		{Function: schema.FunctionCall{Name: "search", Arguments: `{}`}},
	}})
	step := build(t, Deps{Chat: chat, Tools: toolSet(t, testutil.NewFakeTool("search", "r"))},
		graph.ModelCall{ToolsEnabled: true})

	state := newState(schema.UserMessage("find"))
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, chat.BoundTools(), 1)
	calls := state.LastMessage().ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1_0", calls[0].ID)
	assert.Equal(t, "function", calls[0].Type)
}

func TestModelCallDropsToolCallsWhenToolsDisabled(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "hi", ToolCalls: toolCalls("search")})
	step := build(t, Deps{Chat: chat}, graph.ModelCall{})

	state := newState(schema.UserMessage("hello"))
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, state.LastMessage().ToolCalls)
	assert.Nil(t, chat.BoundTools())
}

func TestModelCallReturnsModelErrors(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Err: testutil.ErrScripted})
	step := build(t, Deps{Chat: chat}, graph.ModelCall{})
	_, err := step.Run(context.Background(), newState(schema.UserMessage("hello")))
	assert.ErrorIs(t, err, testutil.ErrScripted)
}

func TestExecuteToolsTruncatesToBudget(t *testing.T) {
	search := testutil.NewFakeTool("search", `{"hits":1}`)
	step := build(t, Deps{Tools: toolSet(t, search)}, graph.ExecuteTools{MaxToolCalls: 3})

	state := newState(
		schema.UserMessage("find"),
		schema.AssistantMessage("", toolCalls("search", "search", "search")),
	)
	state.ToolCallCount = 2

	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 3, state.ToolCallCount)
	assert.Len(t, search.Calls(), 1)

	tail := state.Messages[2:]
	require.Len(t, tail, 3)
	assert.Equal(t, `{"hits":1}`, tail[0].Content)
	assert.Equal(t, "call-a", tail[0].ToolCallID)
	assert.Contains(t, tail[1].Content, "tool_budget_exhausted")
	assert.Contains(t, tail[2].Content, "tool_budget_exhausted")
	assert.Empty(t, graph.PendingToolCalls(state))
}

func TestExecuteToolsTurnsFailuresIntoResults(t *testing.T) {
	broken := testutil.NewFakeTool("broken", "")
	broken.Err = errors.New("upstream 500")
	ok := testutil.NewFakeTool("search", "found")
	step := build(t, Deps{Tools: toolSet(t, broken, ok), Exec: model.ToolsConfig{Parallel: true, Parallelism: 2}},
		graph.ExecuteTools{MaxToolCalls: 5})

	state := newState(
		schema.UserMessage("find"),
		schema.AssistantMessage("", toolCalls("broken", "search", "missing")),
	)
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 3, state.ToolCallCount)

	tail := state.Messages[2:]
	require.Len(t, tail, 3)
	assert.Equal(t, graph.ToolErrorResult("broken", errors.New("upstream 500")), tail[0].Content)
	assert.Equal(t, "found", tail[1].Content)
	assert.Contains(t, tail[2].Content, "unknown tool")
	assert.Equal(t, []string{"call-a", "call-b", "call-c"}, []string{tail[0].ToolCallID, tail[1].ToolCallID, tail[2].ToolCallID})
}

func TestFinalizeAnswersPendingCallsAndWrapsUp(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "Here is what I found so far."})
	step := build(t, Deps{Chat: chat}, graph.FinalizeResponse{MaxToolCalls: 2})

	state := newState(
		schema.UserMessage("find"),
		schema.AssistantMessage("", toolCalls("search")),
	)
	state.ToolCallCount = 2
	_, err := step.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.Messages, 4)
	assert.Equal(t, schema.Tool, state.Messages[2].Role)
	last := state.LastMessage()
	assert.Equal(t, "Here is what I found so far.", last.Content)
	assert.Empty(t, last.ToolCalls)

	input := chat.Calls()[0]
	assert.Equal(t, prompts.WrapUpNotice(2), input[len(input)-1].Content)
}

func TestFinalizeFallsBackWhenModelFailsOrIsEmpty(t *testing.T) {
	for name, reply := range map[string]testutil.Reply{
		"error": {Err: testutil.ErrScripted},
		"empty": {Content: "   ", ToolCalls: toolCalls("search")},
	} {
		t.Run(name, func(t *testing.T) {
			step := build(t, Deps{Chat: testutil.NewScriptedModel(reply)}, graph.FinalizeResponse{MaxToolCalls: 1})
			state := newState(schema.UserMessage("find"))
			_, err := step.Run(context.Background(), state)
			require.NoError(t, err)
			assert.Equal(t, graph.FinalizeErrorReply, state.LastMessage().Content)
			assert.Empty(t, state.LastMessage().ToolCalls)
		})
	}
}

func TestSplitByBudget(t *testing.T) {
	calls := toolCalls("a", "b", "c")
	run, skipped := splitByBudget(calls, 0)
	assert.Empty(t, run)
	assert.Len(t, skipped, 3)

	run, skipped = splitByBudget(calls, 2)
	assert.Len(t, run, 2)
	assert.Len(t, skipped, 1)

	run, skipped = splitByBudget(calls, 5)
	assert.Len(t, run, 3)
	assert.Empty(t, skipped)
}
