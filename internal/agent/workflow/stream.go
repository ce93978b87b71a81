package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// Chunk metadata keys.
const (
	MetaWorkflowType  = "workflow_type"
	MetaSummary       = "conversation_summary"
	MetaSteps         = "steps"
	MetaToolCalls     = "tool_calls"
	MetaExecutionTime = "execution_time_ms"
	MetaErrorType     = "error_type"
	MetaLimit         = "limit"
)

// ExecuteStreaming runs one turn and streams it as chunks. Validation,
// admission and placeholder creation happen before it returns, so their
// errors are returned directly and no chunk is produced. The channel is
// closed after exactly one complete or error chunk. Cancelling ctx stops the
// run.
func (e *Engine) ExecuteStreaming(ctx context.Context, conv model.Conversation, req model.ChatRequest, correlationID, userID string, limits *model.WorkflowLimits) (<-chan model.StreamingChatChunk, error) {
	t, err := e.prepare(ctx, conv, req, correlationID, userID, limits)
	if err != nil {
		return nil, err
	}
	ctx = logx.WithRun(ctx, t.logFields())

	placeholder, err := e.history.CreatePlaceholder(ctx, conv.ID, userID, correlationID)
	if err != nil {
		e.release(ctx, t)
		return nil, errx.GraphFailed("create placeholder", err)
	}

	out := make(chan model.StreamingChatChunk)
	s := &streamRun{
		engine:    e,
		turn:      t,
		messageID: placeholder.ID,
		out:       out,
		usage:     NewUsageAggregator(e.pricing),
	}
	go s.run(ctx)
	return out, nil
}

// streamRun is the state of one streaming turn. It is confined to the
// goroutine started by ExecuteStreaming.
type streamRun struct {
	engine    *Engine
	turn      *turn
	messageID string
	out       chan<- model.StreamingChatChunk
	usage     *UsageAggregator
	watchdog  *time.Timer

	// sent is the reply text already delivered as token chunks.
	sent     string
	diverged bool
}

func (s *streamRun) run(ctx context.Context) {
	defer close(s.out)
	defer s.engine.release(ctx, s.turn)

	lim := s.turn.limits
	runCtx, cancelTimeout := context.WithTimeout(ctx, lim.ExecutionTimeout)
	defer cancelTimeout()
	runCtx, cancel := context.WithCancelCause(runCtx)
	defer cancel(nil)

	s.watchdog = time.AfterFunc(lim.StreamingTimeout, func() {
		cancel(errx.Timeout(errx.KindStreamingTimeout, errx.LimitStreamingTimeout, nil))
	})
	defer s.watchdog.Stop()

	start := s.chunk(model.ChunkStart, "", map[string]any{MetaWorkflowType: string(s.turn.kind)})
	if err := s.send(runCtx, start); err != nil {
		s.fail(ctx, runCtx, err)
		return
	}

	state, err := s.turn.runnable.Run(runCtx, graph.RunInput{
		RunID:  s.turn.id,
		State:  s.turn.state,
		Limits: lim,
		Stream: true,
	}, func(snap graph.Snapshot) error {
		s.usage.AddSnapshot(snap)
		return s.forward(runCtx, snap)
	})
	if err != nil {
		s.fail(ctx, runCtx, err)
		return
	}
	s.complete(ctx, state)
}

// forward emits the text a snapshot adds to what was already sent.
func (s *streamRun) forward(ctx context.Context, snap graph.Snapshot) error {
	if snap.State == nil {
		return nil
	}
	var current string
	if snap.Partial {
		current = model.ReplyTextWith(snap.State, snap.PartialContent)
	} else {
		current = model.ReplyText(snap.State)
	}
	if current == s.sent || s.diverged {
		return nil
	}
	if !strings.HasPrefix(current, s.sent) {
		// Recovered steps keep streamed text, so this only happens when a
		// provider rewrites content it already streamed. The complete chunk
		// carries the reply as persisted.
		s.diverged = true
		logx.Ctx(ctx).Warn().
			Str("node", string(snap.Node)).
			Int("sent_len", len(s.sent)).
			Int("reply_len", len(current)).
			Msg("Reply diverged from streamed text")
		return nil
	}
	delta := current[len(s.sent):]
	if err := s.send(ctx, s.chunk(model.ChunkToken, delta, nil)); err != nil {
		return err
	}
	s.sent = current
	return nil
}

func (s *streamRun) complete(ctx context.Context, state *model.ConversationState) {
	content := model.ReplyText(state)

	pctx, pcancel := persistContext(ctx)
	defer pcancel()
	if err := s.engine.history.UpdateContent(pctx, s.messageID, content); err != nil {
		s.terminal(ctx, s.errorChunk(errx.GraphFailed("persist response", err)))
		return
	}

	meta := s.usage.Info().Map()
	meta[MetaWorkflowType] = string(s.turn.kind)
	meta[MetaSteps] = state.ExecutionHistory
	meta[MetaToolCalls] = state.ToolCallCount
	meta[MetaExecutionTime] = elapsedMS(s.turn.started)
	if state.ConversationSummary != "" {
		meta[MetaSummary] = state.ConversationSummary
	}

	logx.Ctx(ctx).Info().
		Str("workflow_type", string(s.turn.kind)).
		Int("steps", len(state.ExecutionHistory)).
		Int("tool_calls", state.ToolCallCount).
		Bool("diverged", s.diverged).
		Msg("Streaming workflow completed")
	s.terminal(ctx, s.chunk(model.ChunkComplete, content, meta))
}

// fail persists whatever was streamed and emits the error chunk.
func (s *streamRun) fail(ctx, runCtx context.Context, err error) {
	err = streamError(ctx, runCtx, err)
	logx.Ctx(ctx).Error().Err(err).Str("workflow_type", string(s.turn.kind)).Msg("Streaming workflow failed")

	if s.sent != "" {
		pctx, pcancel := persistContext(ctx)
		defer pcancel()
		if perr := s.engine.history.UpdateContent(pctx, s.messageID, s.sent); perr != nil {
			logx.Ctx(ctx).Warn().Err(perr).Msg("Failed to persist partial reply")
		}
	}
	s.terminal(ctx, s.errorChunk(err))
}

func (s *streamRun) errorChunk(err error) model.StreamingChatChunk {
	meta := map[string]any{}
	var we *errx.WorkflowError
	if errors.As(err, &we) {
		meta[MetaErrorType] = string(we.Kind)
		if we.Limit != "" {
			meta[MetaLimit] = we.Limit
		}
	} else if errors.Is(err, context.Canceled) {
		meta[MetaErrorType] = "canceled"
	}
	return s.chunk(model.ChunkError, errx.UserMessage(err), meta)
}

// send delivers a chunk while the run is live and re-arms the streaming
// watchdog.
func (s *streamRun) send(ctx context.Context, chunk model.StreamingChatChunk) error {
	select {
	case s.out <- chunk:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	s.watchdog.Reset(s.turn.limits.StreamingTimeout)
	s.engine.publish(ctx, chunk)
	return nil
}

// terminal delivers the closing chunk. The run context may already be done,
// so the consumer gets one streaming window to take it.
func (s *streamRun) terminal(ctx context.Context, chunk model.StreamingChatChunk) {
	s.watchdog.Stop()
	grace := time.NewTimer(s.turn.limits.StreamingTimeout)
	defer grace.Stop()

	select {
	case s.out <- chunk:
		s.engine.publish(context.WithoutCancel(ctx), chunk)
	case <-ctx.Done():
		logx.Ctx(ctx).Debug().Str("type", string(chunk.Type)).Msg("Consumer gone; dropping terminal chunk")
	case <-grace.C:
		logx.Ctx(ctx).Warn().Str("type", string(chunk.Type)).Msg("Consumer did not take terminal chunk")
	}
}

func (s *streamRun) chunk(typ model.ChunkType, content string, meta map[string]any) model.StreamingChatChunk {
	return model.StreamingChatChunk{
		Type:           typ,
		Content:        content,
		MessageID:      s.messageID,
		ConversationID: s.turn.conv.ID,
		CorrelationID:  s.turn.correlationID,
		Metadata:       meta,
	}
}

// streamError classifies a streaming failure. The consumer's own
// cancellation passes through; run context expiry becomes a typed timeout.
func streamError(ctx, runCtx context.Context, err error) error {
	if _, ok := errx.KindOf(err); ok {
		return err
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if cause := context.Cause(runCtx); cause != nil {
		if _, ok := errx.KindOf(cause); ok {
			return cause
		}
		if errors.Is(cause, context.DeadlineExceeded) {
			return errx.Timeout(errx.KindExecutionTimeout, errx.LimitExecutionTimeout, cause)
		}
	}
	return classify(err)
}

// publish mirrors a chunk to the sinks. Sink failures never affect the run.
func (e *Engine) publish(ctx context.Context, chunk model.StreamingChatChunk) {
	for _, sink := range e.sinks {
		if err := sink.PublishChunk(ctx, chunk); err != nil {
			logx.Ctx(ctx).Warn().Err(err).Str("type", string(chunk.Type)).Msg("Chunk sink failed")
		}
	}
}
