package observers

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/model"
)

// TracingObserver opens one span per step under the run span.
type TracingObserver struct {
	tracer trace.Tracer
}

// NewTracingObserver uses tp, or the global tracer provider when tp is nil.
func NewTracingObserver(tp trace.TracerProvider) *TracingObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingObserver{tracer: tp.Tracer("github.com/chative-core/workflow/observers")}
}

func (o *TracingObserver) OnStart(ctx context.Context, info graph.StepInfo, state *model.ConversationState) context.Context {
	ctx, _ = o.tracer.Start(ctx, "workflow.step."+string(info.Node),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.node", string(info.Node)),
			attribute.Int("workflow.seq", info.Seq),
			attribute.String("workflow.run_id", info.RunID),
			attribute.Int("workflow.messages", len(state.Messages)),
		),
	)
	return ctx
}

func (o *TracingObserver) OnEnd(ctx context.Context, info graph.StepInfo, snap graph.Snapshot) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("workflow.next", string(snap.Next)),
		attribute.Int("workflow.tool_call_count", snap.State.ToolCallCount),
	)
	if u, ok := parsers.ParseUsage(snap.Usage); ok {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", u.PromptTokens),
			attribute.Int("llm.completion_tokens", u.CompletionTokens),
			attribute.Int("llm.total_tokens", u.Tokens()),
		)
	}
	if snap.Recovered != nil {
		span.RecordError(snap.Recovered)
		span.SetAttributes(attribute.Bool("workflow.recovered", true))
	}
	span.End()
}

func (o *TracingObserver) OnError(ctx context.Context, info graph.StepInfo, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
