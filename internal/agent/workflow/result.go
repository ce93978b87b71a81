package workflow

import (
	"context"
	"time"

	"github.com/chative-core/workflow/internal/agent/model"
)

// Result is the outcome of a non-streaming run.
type Result struct {
	MessageID      string             `json:"message_id"`
	ConversationID string             `json:"conversation_id"`
	CorrelationID  string             `json:"correlation_id"`
	Content        string             `json:"content"`
	WorkflowType   model.WorkflowKind `json:"workflow_type"`
	// Summary is the rolling summary the caller passes into the next turn.
	Summary         string    `json:"conversation_summary,omitempty"`
	Usage           UsageInfo `json:"usage"`
	Steps           []string  `json:"steps"`
	ToolCalls       int       `json:"tool_calls"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`

	State *model.ConversationState `json:"-"`
}

// ChunkSink receives a copy of every streamed chunk.
type ChunkSink interface {
	PublishChunk(ctx context.Context, chunk model.StreamingChatChunk) error
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
