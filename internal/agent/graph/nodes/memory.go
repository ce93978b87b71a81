package nodes

import (
	"context"
	"errors"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/memory"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

type manageMemoryStep struct {
	spec graph.ManageMemory
	mem  *memory.Manager
}

func (s *manageMemoryStep) Kind() graph.NodeKind { return graph.NodeManageMemory }

// Run narrows the prompt window to the last spec.Window messages and folds the
// rest into the rolling summary. A failed summarization still narrows the
// window; the carried summary is kept but not injected this turn.
func (s *manageMemoryStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	if len(state.Messages) <= s.spec.Window {
		state.ContextStart = 0
		return graph.Outcome{}, nil
	}

	var (
		res memory.Result
		err error
	)
	if s.mem == nil {
		err = errors.New("no memory manager configured")
		res.Recent = state.Messages[len(state.Messages)-s.spec.Window:]
	} else {
		res, err = s.mem.Condense(ctx, state.Messages, s.spec.Window, state.ConversationSummary)
	}
	if err != nil {
		if ctx.Err() != nil {
			return graph.Outcome{}, err
		}
		logx.Ctx(ctx).Warn().Err(err).
			Int("messages", len(state.Messages)).
			Int("window", s.spec.Window).
			Msg("Summarization failed; continuing without summary")
		state.ErrorState[string(graph.NodeManageMemory)] = err.Error()
		state.ContextStart = len(state.Messages) - len(res.Recent)
		return graph.Outcome{}, nil
	}

	state.ContextStart = len(state.Messages) - len(res.Recent)
	if res.Summary != "" {
		state.ConversationSummary = res.Summary
	}
	logx.Ctx(ctx).Debug().
		Int("summarized", state.ContextStart).
		Int("kept", len(res.Recent)).
		Msg("Conversation history condensed")

	var out graph.Outcome
	if res.Usage != nil {
		out.Usage = res.Usage.Map()
	}
	return out, nil
}
