package nodes

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/tools"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

type executeToolsStep struct {
	spec     graph.ExecuteTools
	tools    *tools.ToolSet
	parallel bool
	limit    int
}

func (s *executeToolsStep) Kind() graph.NodeKind { return graph.NodeExecuteTools }

// Run executes the pending calls of the last assistant message that still fit
// the budget. Calls beyond it are answered with a skipped result. A failing
// tool yields an error-tagged result instead of failing the step.
func (s *executeToolsStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	pending := graph.PendingToolCalls(state)
	if len(pending) == 0 {
		return graph.Outcome{}, nil
	}
	max := normalizeMaxToolCalls(s.spec.MaxToolCalls)
	run, skipped := splitByBudget(pending, graph.RemainingToolBudget(state, max))

	results := make([]string, len(run))
	invoke := func(ctx context.Context, i int) {
		tc := run[i]
		out, err := s.tools.Invoke(ctx, tc)
		if err != nil {
			logx.Ctx(ctx).Warn().Err(err).
				Str("tool", tc.Function.Name).
				Str("tool_call_id", tc.ID).
				Msg("Tool failed")
			out = graph.ToolErrorResult(tc.Function.Name, err)
		}
		results[i] = out
	}

	if s.parallel && len(run) > 1 {
		var g errgroup.Group
		g.SetLimit(s.limit)
		for i := range run {
			g.Go(func() error {
				invoke(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range run {
			if ctx.Err() != nil {
				break
			}
			invoke(ctx, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return graph.Outcome{}, err
	}

	for i, tc := range run {
		state.Append(schema.ToolMessage(results[i], tc.ID))
	}
	for _, tc := range skipped {
		state.Append(schema.ToolMessage(graph.ToolSkippedResult(tc.Function.Name), tc.ID))
	}
	state.ToolCallCount += len(run)

	logx.Ctx(ctx).Debug().
		Int("executed", len(run)).
		Int("skipped", len(skipped)).
		Int("tool_call_count", state.ToolCallCount).
		Int("max_tool_calls", max).
		Msg("Tools executed")
	return graph.Outcome{}, nil
}
