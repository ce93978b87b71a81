// Package workflow runs conversational turns: admission, graph execution,
// persistence and streaming.
package workflow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/conversations"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/resources"
	"github.com/chative-core/workflow/internal/agent/strategy"
	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

const persistTimeout = 5 * time.Second

// Engine executes turns. It is safe for concurrent use; runs share nothing
// but the resource manager.
type Engine struct {
	registry  *strategy.Registry
	factory   graph.StepFactory
	history   *conversations.MessagesManager
	resources *resources.Manager
	observers []graph.Observer
	pricing   model.Pricing
	sinks     []ChunkSink
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithObservers(obs ...graph.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// WithPricing sets the per-token rates used for cost.
func WithPricing(p model.Pricing) Option {
	return func(e *Engine) { e.pricing = p }
}

// WithSinks mirrors every streamed chunk to the sinks.
func WithSinks(sinks ...ChunkSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(registry *strategy.Registry, factory graph.StepFactory, history *conversations.MessagesManager, res *resources.Manager, opts ...Option) (*Engine, error) {
	switch {
	case registry == nil:
		return nil, errors.New("workflow: strategy registry is required")
	case factory == nil:
		return nil, errors.New("workflow: step factory is required")
	case history == nil:
		return nil, errors.New("workflow: messages manager is required")
	case res == nil:
		return nil, errors.New("workflow: resource manager is required")
	}
	e := &Engine{
		registry:  registry,
		factory:   factory,
		history:   history,
		resources: res,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// turn is one admitted run.
type turn struct {
	id            string
	correlationID string
	conv          model.Conversation
	userID        string
	kind          model.WorkflowKind
	limits        model.WorkflowLimits
	runnable      *graph.Runnable
	state         *model.ConversationState
	started       time.Time
}

func (t *turn) logFields() logx.RunFields {
	return logx.RunFields{RunID: t.id, CorrelationID: t.correlationID, ConversationID: t.conv.ID, UserID: t.userID}
}

// prepare resolves the strategy, admits the run and loads the turn's state.
// Nothing is persisted and no model is called before admission succeeds.
// On error the run is already released.
func (e *Engine) prepare(ctx context.Context, conv model.Conversation, req model.ChatRequest, correlationID, userID string, limits *model.WorkflowLimits) (*turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errx.New(errors.New("empty message"), http.StatusBadRequest, "message is required")
	}
	if conv.ID == "" {
		return nil, errx.New(errors.New("empty conversation id"), http.StatusBadRequest, "conversation id is required")
	}

	cfg, lim, err := e.registry.Build(req.Kind, req)
	if err != nil {
		return nil, errx.GraphFailed("build workflow graph", err)
	}
	if limits != nil {
		if err := limits.Validate(); err != nil {
			return nil, errx.New(err, http.StatusBadRequest, "invalid workflow limits")
		}
		lim = *limits
	}

	t := &turn{
		id:            e.newID(),
		correlationID: correlationID,
		conv:          conv,
		userID:        userID,
		kind:          model.WorkflowKind(cfg.Name),
		limits:        lim,
		started:       time.Now(),
	}
	if err := e.resources.Admit(t.id, userID, lim); err != nil {
		return nil, err
	}

	fail := func(msg string, err error) (*turn, error) {
		e.release(ctx, t)
		return nil, errx.GraphFailed(msg, err)
	}

	t.runnable, err = graph.Compile(cfg, e.factory,
		graph.WithObservers(e.observers...),
		graph.WithResourceTracker(e.resources),
	)
	if err != nil {
		return fail("compile workflow graph", err)
	}

	history, err := e.history.LoadHistory(ctx, conv.ID, userID)
	if err != nil {
		return fail("load conversation history", err)
	}
	if _, err := e.history.SaveUserMessage(ctx, conv.ID, userID, req.Message, map[string]any{
		conversations.MetaCorrelationID: correlationID,
		conversations.MetaWorkflow:      string(t.kind),
	}); err != nil {
		return fail("save user message", err)
	}

	state := model.NewConversationState(conv.ID, userID)
	state.ConversationSummary = conv.Summary
	state.Append(history...)
	state.Append(schema.UserMessage(req.Message))
	state.TurnStart = len(state.Messages)
	t.state = state
	return t, nil
}

func (e *Engine) release(ctx context.Context, t *turn) {
	usage, ok := e.resources.Release(t.id, t.userID)
	if !ok {
		return
	}
	logx.Ctx(ctx).Debug().
		Str("run_id", t.id).
		Int("tokens_used", usage.TokensUsed).
		Int("steps_completed", usage.StepsCompleted).
		Int("errors", usage.ErrorsCount).
		Float64("memory_mb", usage.MemoryUsedMB).
		Dur("elapsed", time.Since(t.started)).
		Msg("Workflow released")
}

// Execute runs one turn to completion and persists the reply.
func (e *Engine) Execute(ctx context.Context, conv model.Conversation, req model.ChatRequest, correlationID, userID string, limits *model.WorkflowLimits) (*Result, error) {
	t, err := e.prepare(ctx, conv, req, correlationID, userID, limits)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, t)

	ctx = logx.WithRun(ctx, t.logFields())
	runCtx, cancel := context.WithTimeout(ctx, t.limits.ExecutionTimeout)
	defer cancel()

	agg := NewUsageAggregator(e.pricing)
	state, err := t.runnable.Run(runCtx, graph.RunInput{RunID: t.id, State: t.state, Limits: t.limits}, func(s graph.Snapshot) error {
		agg.AddSnapshot(s)
		return nil
	})
	if err != nil {
		err = classify(err)
		logx.Ctx(ctx).Error().Err(err).Str("workflow_type", string(t.kind)).Msg("Workflow failed")
		return nil, err
	}

	content := model.ReplyText(state)
	pctx, pcancel := persistContext(ctx)
	defer pcancel()
	msg, err := e.history.SaveResponse(pctx, t.conv.ID, t.userID, content, map[string]any{
		conversations.MetaCorrelationID: t.correlationID,
		conversations.MetaWorkflow:      string(t.kind),
	})
	if err != nil {
		return nil, errx.GraphFailed("persist response", err)
	}

	res := &Result{
		MessageID:       msg.ID,
		ConversationID:  t.conv.ID,
		CorrelationID:   t.correlationID,
		Content:         content,
		WorkflowType:    t.kind,
		Summary:         state.ConversationSummary,
		Usage:           agg.Info(),
		Steps:           state.ExecutionHistory,
		ToolCalls:       state.ToolCallCount,
		ExecutionTimeMS: elapsedMS(t.started),
		State:           state,
	}
	logx.Ctx(ctx).Info().
		Str("workflow_type", string(t.kind)).
		Int("steps", len(res.Steps)).
		Int("tool_calls", res.ToolCalls).
		Int64("execution_time_ms", res.ExecutionTimeMS).
		Msg("Workflow completed")
	return res, nil
}

// classify maps run failures onto the error taxonomy. Caller cancellation is
// passed through unchanged.
func classify(err error) error {
	if _, ok := errx.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errx.GraphFailed("graph execution failed", err)
}

// persistContext detaches persistence from the run so a final write still
// happens after cancellation or timeout.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
