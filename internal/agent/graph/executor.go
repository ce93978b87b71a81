package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/huandu/go-clone"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/resources"
	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// Fallback texts used when a node failure is converted into a message.
const (
	ModelErrorReply    = "I'm sorry, I ran into a problem while generating a response. Please try again."
	FinalizeErrorReply = "I've reached the limit of tool calls I can make for this request, so I'll stop here. Please ask again if you need more detail."
)

// ResourceTracker is the part of the resource limit manager the executor uses.
type ResourceTracker interface {
	Record(runID string, d resources.Delta)
	Check(runID string, limits model.WorkflowLimits) error
}

// Runnable is a compiled graph ready to execute runs. It holds no per-run
// state and may be shared by concurrent runs.
type Runnable struct {
	cfg       Config
	steps     map[NodeKind]Step
	tracker   ResourceTracker
	observers observers
	tracer    trace.Tracer
}

// Option configures a Runnable.
type Option func(*Runnable)

// WithObservers registers step observers.
func WithObservers(obs ...Observer) Option {
	return func(r *Runnable) { r.observers = append(r.observers, obs...) }
}

// WithResourceTracker wires usage recording and limit checks.
func WithResourceTracker(t ResourceTracker) Option {
	return func(r *Runnable) { r.tracker = t }
}

// Compile validates cfg and binds a step to every node.
func Compile(cfg Config, factory StepFactory, opts ...Option) (*Runnable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compile graph %q: %w", cfg.Name, err)
	}
	if factory == nil {
		return nil, errors.New("compile graph: step factory is nil")
	}

	r := &Runnable{
		cfg:    cfg,
		steps:  make(map[NodeKind]Step, len(cfg.Nodes)),
		tracer: otel.Tracer("github.com/chative-core/workflow/graph"),
	}
	for kind, spec := range cfg.Nodes {
		step, err := factory.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("compile graph %q: build %s: %w", cfg.Name, kind, err)
		}
		if step.Kind() != kind {
			return nil, fmt.Errorf("compile graph %q: factory built %s for %s", cfg.Name, step.Kind(), kind)
		}
		r.steps[kind] = step
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the compiled configuration.
func (r *Runnable) Config() Config {
	return r.cfg
}

// RunInput describes one run.
type RunInput struct {
	RunID  string
	State  *model.ConversationState
	Limits model.WorkflowLimits
	// Stream enables partial snapshots from streaming model calls.
	Stream bool
}

// Run executes the graph from its entry node until a terminal node, one step
// at a time. After every step yield receives a snapshot; a yield error stops
// the run and is returned as-is. The returned state is the last committed one,
// also on error.
func (r *Runnable) Run(ctx context.Context, in RunInput, yield func(Snapshot) error) (*model.ConversationState, error) {
	if in.State == nil {
		return nil, errors.New("run: nil state")
	}
	if yield == nil {
		yield = func(Snapshot) error { return nil }
	}

	state := in.State
	state.ToolCallCount = 0
	ensureMaps(state)

	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.graph", r.cfg.Name),
		attribute.String("workflow.run_id", in.RunID),
		attribute.String("workflow.conversation_id", state.ConversationID),
	))
	defer span.End()

	log := logx.Ctx(ctx)
	committed := cloneState(state)
	current := r.cfg.Entry
	seq := 0

	fail := func(err error) (*model.ConversationState, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}

	for current != End {
		if err := ctx.Err(); err != nil {
			return fail(runContextError(ctx, err))
		}
		if r.tracker != nil {
			if err := r.tracker.Check(in.RunID, in.Limits); err != nil {
				return fail(err)
			}
		}
		if seq >= r.cfg.MaxSteps {
			log.Error().Int("max_steps", r.cfg.MaxSteps).Msg("Step budget exhausted before reaching a terminal node")
			return fail(&errx.WorkflowError{
				Kind:    errx.KindGraphExecutionFailed,
				Limit:   errx.LimitMaxSteps,
				Message: fmt.Sprintf("graph exceeded %d steps", r.cfg.MaxSteps),
			})
		}
		seq++

		info := StepInfo{RunID: in.RunID, Graph: r.cfg.Name, Seq: seq, Node: current}
		step := r.steps[current]
		working := cloneState(state)

		// streamed is the in-flight text the consumer has already received
		// from this step.
		var streamed string
		stepCtx, cancel := context.WithTimeout(ctx, in.Limits.StepTimeout)
		if in.Stream {
			prev := committed
			stepSeq, node := seq, current
			stepCtx = withEmitter(stepCtx, func(content string) error {
				if err := yield(Snapshot{Seq: stepSeq, Node: node, State: prev, Partial: true, PartialContent: content}); err != nil {
					return err
				}
				streamed = content
				return nil
			})
		}
		stepCtx = r.observers.start(stepCtx, info, working)

		started := time.Now()
		out, err := runStep(stepCtx, step, working)
		stepErr := stepCtx.Err()
		cancel()

		var recovered error
		if err != nil {
			if stopErr, ok := consumerStopped(err); ok {
				r.observers.fail(stepCtx, info, stopErr)
				return fail(stopErr)
			}
			if abort := abortError(ctx, stepErr, err); abort != nil {
				r.observers.fail(stepCtx, info, abort)
				if r.tracker != nil {
					r.tracker.Record(in.RunID, resources.Delta{Errors: 1})
				}
				return fail(abort)
			}

			log.Warn().Err(err).Str("node", string(current)).Int("seq", seq).Msg("Node failed; recovering")
			recovered = err
			working = cloneState(state)
			r.recoverNode(current, working, streamed, err)
			working.ErrorState[string(current)] = err.Error()
			out = Outcome{}
		}

		next := r.next(current, working, recovered)
		working.ExecutionHistory = append(working.ExecutionHistory, string(current))
		if current == NodeModelCall {
			working.ConditionalResults[fmt.Sprintf("%s#%d", current, seq)] = string(next)
		}

		if r.tracker != nil {
			delta := resources.Delta{
				Steps:    1,
				MemoryMB: model.EstimateStateMB(working) - model.EstimateStateMB(state),
			}
			if u, ok := parsers.ParseUsage(out.Usage); ok {
				delta.Tokens = u.Tokens()
			}
			if recovered != nil {
				delta.Errors = 1
			}
			r.tracker.Record(in.RunID, delta)
		}

		state = working
		committed = cloneState(state)
		snap := Snapshot{Seq: seq, Node: current, Next: next, State: committed, Usage: out.Usage, Recovered: recovered}
		r.observers.end(stepCtx, info, snap)

		log.Debug().
			Str("node", string(current)).
			Str("next", string(next)).
			Int("seq", seq).
			Int("tool_call_count", state.ToolCallCount).
			Dur("elapsed", time.Since(started)).
			Msg("Step completed")

		if err := yield(snap); err != nil {
			return fail(err)
		}
		current = next
	}
	return state, nil
}

// next picks the successor of kind after it ran.
func (r *Runnable) next(kind NodeKind, state *model.ConversationState, recovered error) NodeKind {
	switch kind {
	case NodeModelCall:
		if recovered != nil {
			return End
		}
		switch Decide(state, state.LastMessage(), r.cfg.MaxToolCalls) {
		case DecisionExecuteTools:
			if r.cfg.Has(NodeExecuteTools) {
				return NodeExecuteTools
			}
		case DecisionFinalize:
			if r.cfg.Has(NodeFinalizeResponse) {
				return NodeFinalizeResponse
			}
		}
		return End
	case NodeFinalizeResponse:
		return End
	default:
		if to, ok := r.cfg.Edges[kind]; ok {
			return to
		}
		return End
	}
}

// recoverNode converts a node failure into state so the run can continue or
// end coherently. streamed is the text the failed step already delivered to a
// streaming consumer; it is kept as its own assistant message so the reply
// still starts with it.
func (r *Runnable) recoverNode(kind NodeKind, state *model.ConversationState, streamed string, err error) {
	switch kind {
	case NodeModelCall:
		if streamed != "" {
			partial := schema.AssistantMessage(streamed, nil)
			partial.Extra = map[string]any{"partial": true}
			state.Append(partial)
		}
		msg := schema.AssistantMessage(ModelErrorReply, nil)
		msg.Extra = map[string]any{"error": err.Error()}
		state.Append(msg)
	case NodeRetrieveContext:
		state.RetrievalContext = ""
	case NodeExecuteTools:
		pending := PendingToolCalls(state)
		budget := RemainingToolBudget(state, r.cfg.MaxToolCalls)
		for i, tc := range pending {
			state.Append(schema.ToolMessage(ToolErrorResult(tc.Function.Name, err), tc.ID))
			if i < budget {
				state.ToolCallCount++
			}
		}
	case NodeFinalizeResponse:
		for _, tc := range PendingToolCalls(state) {
			state.Append(schema.ToolMessage(ToolSkippedResult(tc.Function.Name), tc.ID))
		}
		state.Append(schema.AssistantMessage(FinalizeErrorReply, nil))
	case NodeManageMemory:
		// history is passed verbatim
	}
}

// ToolErrorResult is the error-tagged tool result handed back to the model.
func ToolErrorResult(name string, err error) string {
	return fmt.Sprintf(`{"error":%q,"tool":%q}`, err.Error(), name)
}

// ToolSkippedResult answers a tool call that was not executed because the
// tool budget was exhausted.
func ToolSkippedResult(name string) string {
	return fmt.Sprintf(`{"error":"tool_budget_exhausted","tool":%q,"note":"not executed"}`, name)
}

// abortError classifies failures that end the run instead of being recovered:
// cancellation and timeouts.
func abortError(runCtx context.Context, stepCtxErr, err error) error {
	if runErr := runCtx.Err(); runErr != nil {
		return runContextError(runCtx, runErr)
	}
	if errors.Is(stepCtxErr, context.DeadlineExceeded) {
		return errx.Timeout(errx.KindStepTimeout, errx.LimitStepTimeout, err)
	}
	var we *errx.WorkflowError
	if errors.As(err, &we) && (we.IsTimeout() || we.Kind == errx.KindTokenLimitExceeded || we.Kind == errx.KindMemoryLimitExceeded) {
		return err
	}
	return nil
}

func runContextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errx.Timeout(errx.KindExecutionTimeout, errx.LimitExecutionTimeout, err)
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func runStep(ctx context.Context, step Step, state *model.ConversationState) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("node %s panicked: %v\n%s", step.Kind(), p, debug.Stack())
		}
	}()
	return step.Run(ctx, state)
}

func cloneState(s *model.ConversationState) *model.ConversationState {
	return clone.Clone(s).(*model.ConversationState)
}

func ensureMaps(s *model.ConversationState) {
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	if s.LoopState == nil {
		s.LoopState = map[string]any{}
	}
	if s.ErrorState == nil {
		s.ErrorState = map[string]any{}
	}
	if s.ConditionalResults == nil {
		s.ConditionalResults = map[string]any{}
	}
}
