package observers

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

type startedKey struct{}

// LogObserver logs every step: the latest user message before a model call,
// the assistant or tool output after it and node failures.
type LogObserver struct {
	// MaxContent truncates logged message bodies; zero logs them in full.
	MaxContent int
}

func NewLogObserver() *LogObserver {
	return &LogObserver{MaxContent: 500}
}

func (o *LogObserver) OnStart(ctx context.Context, info graph.StepInfo, state *model.ConversationState) context.Context {
	ev := logx.Ctx(ctx).Debug().
		Str("node", string(info.Node)).
		Int("seq", info.Seq).
		Int("messages", len(state.Messages))
	if info.Node == graph.NodeModelCall {
		if um := state.LastUserContent(); um != "" {
			ev = ev.Str("user", o.clip(um))
		}
	}
	ev.Msg("Step start")
	return context.WithValue(ctx, startedKey{}, time.Now())
}

func (o *LogObserver) OnEnd(ctx context.Context, info graph.StepInfo, snap graph.Snapshot) {
	ev := logx.Ctx(ctx).Debug().
		Str("node", string(info.Node)).
		Str("next", string(snap.Next)).
		Int("seq", info.Seq)
	if d, ok := elapsed(ctx); ok {
		ev = ev.Dur("elapsed", d)
	}
	if snap.Recovered != nil {
		ev = ev.AnErr("recovered", snap.Recovered)
	}

	switch last := snap.State.LastMessage(); {
	case last == nil:
	case last.Role == schema.Assistant && len(last.ToolCalls) > 0:
		names := make([]string, 0, len(last.ToolCalls))
		for _, tc := range last.ToolCalls {
			names = append(names, tc.Function.Name)
		}
		ev = ev.Strs("tool_calls", names)
	case last.Role == schema.Assistant:
		ev = ev.Str("assistant", o.clip(last.Content))
	case last.Role == schema.Tool:
		ev = ev.Str("tool_result", o.clip(last.Content)).Int("tool_call_count", snap.State.ToolCallCount)
	}
	ev.Msg("Step end")
}

func (o *LogObserver) OnError(ctx context.Context, info graph.StepInfo, err error) {
	ev := logx.Ctx(ctx).Error().Err(err).
		Str("node", string(info.Node)).
		Int("seq", info.Seq)
	if d, ok := elapsed(ctx); ok {
		ev = ev.Dur("elapsed", d)
	}
	ev.Msg("Step aborted")
}

func (o *LogObserver) clip(s string) string {
	s = strings.TrimSpace(s)
	if o.MaxContent <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= o.MaxContent {
		return s
	}
	return string(r[:o.MaxContent]) + "..."
}

func elapsed(ctx context.Context) (time.Duration, bool) {
	t, ok := ctx.Value(startedKey{}).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}
