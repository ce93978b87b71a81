package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a workflow failure for callers of the engine.
type Kind string

const (
	KindAdmissionRejected    Kind = "admission_rejected"
	KindExecutionTimeout     Kind = "execution_timeout"
	KindStepTimeout          Kind = "step_timeout"
	KindStreamingTimeout     Kind = "streaming_timeout"
	KindTokenLimitExceeded   Kind = "token_limit_exceeded"
	KindMemoryLimitExceeded  Kind = "memory_limit_exceeded"
	KindGraphExecutionFailed Kind = "graph_execution_failed"
)

// Limit names reported on resource errors.
const (
	LimitConcurrentWorkflows = "concurrent_workflows"
	LimitExecutionTimeout    = "execution_timeout"
	LimitStepTimeout         = "step_timeout"
	LimitStreamingTimeout    = "streaming_timeout"
	LimitMaxTokens           = "max_tokens"
	LimitMaxMemory           = "max_memory"
	LimitMaxSteps            = "max_steps"
)

// Sentinels usable with errors.Is. Two WorkflowErrors match when their kinds match.
var (
	ErrAdmissionRejected    = &WorkflowError{Kind: KindAdmissionRejected}
	ErrExecutionTimeout     = &WorkflowError{Kind: KindExecutionTimeout}
	ErrStepTimeout          = &WorkflowError{Kind: KindStepTimeout}
	ErrStreamingTimeout     = &WorkflowError{Kind: KindStreamingTimeout}
	ErrTokenLimitExceeded   = &WorkflowError{Kind: KindTokenLimitExceeded}
	ErrMemoryLimitExceeded  = &WorkflowError{Kind: KindMemoryLimitExceeded}
	ErrGraphExecutionFailed = &WorkflowError{Kind: KindGraphExecutionFailed}
)

// WorkflowError is the typed failure surfaced by the engine.
type WorkflowError struct {
	Kind    Kind
	Limit   string
	Message string
	Err     error
}

func (e *WorkflowError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Limit != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Limit)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches any WorkflowError of the same kind.
func (e *WorkflowError) Is(target error) bool {
	var t *WorkflowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Status maps the kind onto the HTTP status the API layer should answer with.
func (e *WorkflowError) Status() int {
	switch e.Kind {
	case KindAdmissionRejected:
		return http.StatusTooManyRequests
	case KindExecutionTimeout, KindStepTimeout, KindStreamingTimeout:
		return http.StatusGatewayTimeout
	case KindTokenLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case KindMemoryLimitExceeded:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// IsTimeout reports whether the kind is one of the timeout kinds.
func (e *WorkflowError) IsTimeout() bool {
	switch e.Kind {
	case KindExecutionTimeout, KindStepTimeout, KindStreamingTimeout:
		return true
	}
	return false
}

// AdmissionRejected reports a per-user concurrency cap violation.
func AdmissionRejected(userID string, active, max int) error {
	return &WorkflowError{
		Kind:    KindAdmissionRejected,
		Limit:   LimitConcurrentWorkflows,
		Message: fmt.Sprintf("user %s already has %d of %d concurrent workflows", userID, active, max),
	}
}

// Timeout builds a timeout error for the given kind.
func Timeout(kind Kind, limit string, err error) error {
	return &WorkflowError{Kind: kind, Limit: limit, Message: "workflow timed out", Err: err}
}

// LimitExceeded builds a token or memory limit error.
func LimitExceeded(kind Kind, limit string, used, max float64) error {
	return &WorkflowError{
		Kind:    kind,
		Limit:   limit,
		Message: fmt.Sprintf("resource limit exceeded: used %.0f of %.0f", used, max),
	}
}

// GraphFailed wraps a failure the graph could not recover from.
func GraphFailed(message string, err error) error {
	return &WorkflowError{Kind: KindGraphExecutionFailed, Message: message, Err: err}
}

// KindOf extracts the workflow kind from err.
func KindOf(err error) (Kind, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return "", false
}

// UserMessage renders err as a message safe to show in an error chunk.
func UserMessage(err error) string {
	kind, ok := KindOf(err)
	if !ok {
		return SystemErrorMessage
	}
	switch kind {
	case KindAdmissionRejected:
		return "Too many conversations are running for this user. Please wait for one to finish."
	case KindExecutionTimeout, KindStepTimeout, KindStreamingTimeout:
		return "The response took too long and was stopped."
	case KindTokenLimitExceeded:
		return "This conversation exceeded its token budget."
	case KindMemoryLimitExceeded:
		return "This conversation exceeded its memory budget."
	default:
		return "Something went wrong while generating the response."
	}
}
