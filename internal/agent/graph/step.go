package graph

import (
	"context"
	"errors"

	"github.com/chative-core/workflow/internal/agent/model"
)

// Step is the uniform contract of a node implementation. Run receives a
// private copy of the state and mutates it in place; the executor adopts the
// copy only when Run succeeds.
type Step interface {
	Kind() NodeKind
	Run(ctx context.Context, state *model.ConversationState) (Outcome, error)
}

// Outcome is what a step reports besides its state mutation.
type Outcome struct {
	// Usage is the token usage record of a model call made by the step, in
	// whatever naming the provider used.
	Usage map[string]any
}

// StepFactory turns node specs into steps.
type StepFactory interface {
	Build(spec NodeSpec) (Step, error)
}

// Snapshot is the state observed after a step. Partial snapshots are emitted
// while a model call is still streaming; they carry the committed state of the
// previous step plus the text streamed so far.
type Snapshot struct {
	Seq     int
	Node    NodeKind
	Next    NodeKind
	State   *model.ConversationState
	Usage   map[string]any
	Partial bool
	// PartialContent is the accumulated in-flight assistant text.
	PartialContent string
	// Recovered holds the node failure that was converted into state.
	Recovered error
}

type emitterKey struct{}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// EmitPartial publishes accumulated in-flight text of the running step. It is
// a no-op unless the run is streaming. A non-nil error means the consumer is
// gone and the step should stop.
func EmitPartial(ctx context.Context, content string) error {
	emit, ok := ctx.Value(emitterKey{}).(func(string) error)
	if !ok || emit == nil {
		return nil
	}
	if err := emit(content); err != nil {
		return &stopError{err: err}
	}
	return nil
}

// Streaming reports whether partial emission is wired for the step.
func Streaming(ctx context.Context) bool {
	_, ok := ctx.Value(emitterKey{}).(func(string) error)
	return ok
}

func withEmitter(ctx context.Context, emit func(string) error) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

func consumerStopped(err error) (error, bool) {
	var se *stopError
	if errors.As(err, &se) {
		return se.err, true
	}
	return nil, false
}

// Stopped reports whether err means the stream consumer went away.
func Stopped(err error) bool {
	_, ok := consumerStopped(err)
	return ok
}
