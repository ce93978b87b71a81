package graph

import (
	"context"

	"github.com/chative-core/workflow/internal/agent/model"
)

// StepInfo identifies a step execution.
type StepInfo struct {
	RunID string
	Graph string
	Seq   int
	Node  NodeKind
}

// Observer is notified around every step. OnStart may return a derived
// context (e.g. carrying a span) that is handed to the step and to OnEnd/OnError.
type Observer interface {
	OnStart(ctx context.Context, info StepInfo, state *model.ConversationState) context.Context
	OnEnd(ctx context.Context, info StepInfo, snap Snapshot)
	OnError(ctx context.Context, info StepInfo, err error)
}

type observers []Observer

func (o observers) start(ctx context.Context, info StepInfo, state *model.ConversationState) context.Context {
	for _, ob := range o {
		ctx = ob.OnStart(ctx, info, state)
	}
	return ctx
}

func (o observers) end(ctx context.Context, info StepInfo, snap Snapshot) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].OnEnd(ctx, info, snap)
	}
}

func (o observers) fail(ctx context.Context, info StepInfo, err error) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].OnError(ctx, info, err)
	}
}
