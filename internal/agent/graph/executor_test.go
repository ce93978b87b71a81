package graph_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/nodes"
	"github.com/chative-core/workflow/internal/agent/graph/tools"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/resources"
	errx "github.com/chative-core/workflow/internal/core/error"
	"github.com/chative-core/workflow/internal/testutil"
)

func plainGraph(t *testing.T) graph.Config {
	t.Helper()
	cfg, err := graph.NewBuilder("plain").AddNode(graph.ModelCall{}).Build()
	require.NoError(t, err)
	return cfg
}

func toolGraph(t *testing.T, max int, withRetrieval bool) graph.Config {
	t.Helper()
	b := graph.NewBuilder("tools")
	if withRetrieval {
		b.AddNode(graph.RetrieveContext{MaxDocuments: 3}).AddEdge(graph.NodeRetrieveContext, graph.NodeModelCall)
	}
	cfg, err := b.
		AddNode(graph.ModelCall{ToolsEnabled: true}).
		AddNode(graph.ExecuteTools{MaxToolCalls: max}).
		AddNode(graph.FinalizeResponse{MaxToolCalls: max}).
		AddEdge(graph.NodeExecuteTools, graph.NodeModelCall).
		WithToolBudget(max).
		Build()
	require.NoError(t, err)
	return cfg
}

func compile(t *testing.T, cfg graph.Config, deps nodes.Deps, opts ...graph.Option) *graph.Runnable {
	t.Helper()
	f, err := nodes.NewFactory(deps)
	require.NoError(t, err)
	r, err := graph.Compile(cfg, f, opts...)
	require.NoError(t, err)
	return r
}

func turn(content string) *model.ConversationState {
	s := model.NewConversationState("conv-1", "user-1")
	s.Append(schema.UserMessage(content))
	s.TurnStart = len(s.Messages)
	return s
}

func input(state *model.ConversationState) graph.RunInput {
	return graph.RunInput{RunID: "run-1", State: state, Limits: model.DefaultLimits()}
}

func TestRunPlainGraph(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "Hello there."})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	var snaps []graph.Snapshot
	state, err := r.Run(context.Background(), input(turn("hi")), func(s graph.Snapshot) error {
		snaps = append(snaps, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"model_call"}, state.ExecutionHistory)
	assert.Equal(t, "Hello there.", model.ReplyText(state))
	require.Len(t, snaps, 1)
	assert.Equal(t, graph.End, snaps[0].Next)
	assert.Equal(t, "end", state.ConditionalResults["model_call#1"])
}

func TestRunToolLoopStopsAtBudget(t *testing.T) {
	for _, max := range []int{1, 5, 10} {
		t.Run(fmt.Sprintf("budget_%d", max), func(t *testing.T) {
			search := testutil.NewFakeTool("search", `{"hits":0}`)
			set, err := tools.NewToolSet(context.Background(), search)
			require.NoError(t, err)

			r := compile(t, toolGraph(t, max, false), nodes.Deps{Chat: testutil.AlwaysToolCall("search"), Tools: set})

			state, err := r.Run(context.Background(), input(turn("search forever")), nil)
			require.NoError(t, err, "finalize must run before the step backstop")

			assert.Len(t, search.Calls(), max)
			assert.Equal(t, max, state.ToolCallCount)

			var want []string
			for i := 0; i < max; i++ {
				want = append(want, "model_call", "execute_tools")
			}
			want = append(want, "model_call", "finalize_response")
			assert.Equal(t, want, state.ExecutionHistory)
			assert.Less(t, len(state.ExecutionHistory), r.Config().MaxSteps)
			assert.Equal(t, graph.MaxStepsFor(max), r.Config().MaxSteps)

			last := state.LastMessage()
			assert.Equal(t, schema.Assistant, last.Role)
			assert.NotEmpty(t, strings.TrimSpace(last.Content))
			assert.Empty(t, last.ToolCalls)
			assert.Empty(t, graph.PendingToolCalls(state))
		})
	}
}

func TestRunResetsToolCountAtStart(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "done"})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	s := turn("hi")
	s.ToolCallCount = 7
	state, err := r.Run(context.Background(), input(s), nil)
	require.NoError(t, err)
	assert.Zero(t, state.ToolCallCount)
}

func TestRunModelFailureBecomesMessage(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Err: testutil.ErrScripted})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	var snap graph.Snapshot
	state, err := r.Run(context.Background(), input(turn("hi")), func(s graph.Snapshot) error {
		snap = s
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, graph.ModelErrorReply, state.LastMessage().Content)
	assert.Contains(t, state.ErrorState, "model_call")
	assert.ErrorIs(t, snap.Recovered, testutil.ErrScripted)
	assert.Equal(t, graph.End, snap.Next)
}

func TestRunRetrievalFailureDegrades(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "Answer without context."})
	r := compile(t, toolGraph(t, 2, true), nodes.Deps{
		Chat:      chat,
		Retriever: &testutil.FakeRetriever{Err: errors.New("index offline")},
	})

	state, err := r.Run(context.Background(), input(turn("question")), nil)
	require.NoError(t, err)
	assert.Empty(t, state.RetrievalContext)
	assert.Contains(t, state.ErrorState, "retrieve_context")
	assert.Equal(t, "Answer without context.", model.ReplyText(state))
	require.Len(t, chat.Calls(), 1)
}

type mutatingStep struct{ kind graph.NodeKind }

func (s mutatingStep) Kind() graph.NodeKind { return s.kind }

func (s mutatingStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	switch s.kind {
	case graph.NodeRetrieveContext:
		state.RetrievalContext = "half written"
		state.Append(schema.SystemMessage("junk"))
		return graph.Outcome{}, errors.New("boom")
	case graph.NodeExecuteTools:
		// never increments the tool count, so the guard never finalizes
		return graph.Outcome{}, nil
	default:
		state.Append(schema.AssistantMessage("", []schema.ToolCall{{ID: "x", Function: schema.FunctionCall{Name: "t"}}}))
		return graph.Outcome{}, nil
	}
}

type stepFactory struct{}

func (stepFactory) Build(spec graph.NodeSpec) (graph.Step, error) {
	return mutatingStep{kind: spec.Kind()}, nil
}

func TestFailedStepLeavesNoPartialMutation(t *testing.T) {
	cfg, err := graph.NewBuilder("retrieval").
		AddNode(graph.RetrieveContext{MaxDocuments: 1}).
		AddNode(graph.ModelCall{}).
		AddEdge(graph.NodeRetrieveContext, graph.NodeModelCall).
		Build()
	require.NoError(t, err)
	r, err := graph.Compile(cfg, stepFactory{})
	require.NoError(t, err)

	state, err := r.Run(context.Background(), input(turn("q")), nil)
	require.NoError(t, err)
	assert.Empty(t, state.RetrievalContext)
	for _, m := range state.Messages {
		assert.NotEqual(t, "junk", m.Content)
	}
}

func TestRunStepBackstop(t *testing.T) {
	cfg := toolGraph(t, 2, false)
	r, err := graph.Compile(cfg, stepFactory{})
	require.NoError(t, err)

	state, err := r.Run(context.Background(), input(turn("loop")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrGraphExecutionFailed)
	assert.Len(t, state.ExecutionHistory, cfg.MaxSteps)
}

func TestRunStepTimeout(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "late", Delay: time.Second})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	in := input(turn("hi"))
	in.Limits.StepTimeout = 20 * time.Millisecond
	_, err := r.Run(context.Background(), in, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrStepTimeout)
}

func TestRunExecutionTimeout(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "late", Delay: time.Second})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, input(turn("hi")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrExecutionTimeout)
}

func TestRunTokenLimitAborts(t *testing.T) {
	search := testutil.NewFakeTool("search", "r")
	set, err := tools.NewToolSet(context.Background(), search)
	require.NoError(t, err)

	mgr := resources.NewManager()
	in := input(turn("q"))
	in.Limits.MaxTokens = 10
	require.NoError(t, mgr.Admit(in.RunID, "user-1", in.Limits))
	defer mgr.Release(in.RunID, "user-1")

	r := compile(t, toolGraph(t, 5, false), nodes.Deps{Chat: testutil.AlwaysToolCall("search"), Tools: set},
		graph.WithResourceTracker(mgr))

	_, err = r.Run(context.Background(), in, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrTokenLimitExceeded)
	assert.Empty(t, search.Calls())

	usage, ok := mgr.Usage(in.RunID)
	require.True(t, ok)
	assert.Equal(t, 15, usage.TokensUsed)
	assert.Equal(t, 1, usage.StepsCompleted)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "first"})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	var snap graph.Snapshot
	state, err := r.Run(context.Background(), input(turn("hi")), func(s graph.Snapshot) error {
		snap = s
		return nil
	})
	require.NoError(t, err)
	snap.State.Messages[len(snap.State.Messages)-1].Content = "tampered"
	assert.Equal(t, "first", state.LastMessage().Content)
}

func TestStreamingEmitsPartialSnapshots(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "one two three"})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	in := input(turn("count"))
	in.Stream = true
	var partials []string
	var final []graph.Snapshot
	state, err := r.Run(context.Background(), in, func(s graph.Snapshot) error {
		if s.Partial {
			partials = append(partials, s.PartialContent)
			assert.Equal(t, graph.NodeModelCall, s.Node)
			return nil
		}
		final = append(final, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "one two", "one two three"}, partials)
	require.Len(t, final, 1)
	assert.Equal(t, "one two three", model.ReplyText(state))
}

func TestStreamingConsumerStopEndsRun(t *testing.T) {
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "one two three"})
	r := compile(t, plainGraph(t), nodes.Deps{Chat: chat})

	gone := errors.New("client disconnected")
	in := input(turn("count"))
	in.Stream = true
	_, err := r.Run(context.Background(), in, func(s graph.Snapshot) error {
		if s.Partial {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) OnStart(ctx context.Context, info graph.StepInfo, _ *model.ConversationState) context.Context {
	o.events = append(o.events, "start:"+string(info.Node))
	return ctx
}

func (o *recordingObserver) OnEnd(ctx context.Context, info graph.StepInfo, _ graph.Snapshot) {
	o.events = append(o.events, "end:"+string(info.Node))
}

func (o *recordingObserver) OnError(ctx context.Context, info graph.StepInfo, err error) {
	o.events = append(o.events, "error:"+string(info.Node))
}

func TestObserversSeeEveryStep(t *testing.T) {
	obs := &recordingObserver{}
	chat := testutil.NewScriptedModel(testutil.Reply{Content: "hi"})
	r := compile(t, toolGraph(t, 2, true), nodes.Deps{Chat: chat, Retriever: &testutil.FakeRetriever{}},
		graph.WithObservers(obs))

	_, err := r.Run(context.Background(), input(turn("q")), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start:retrieve_context", "end:retrieve_context",
		"start:model_call", "end:model_call",
	}, obs.events)
}
