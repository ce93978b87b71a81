package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// ConversationState is the mutable state of one in-flight graph run.
// Concurrency model:
//   - A state is owned exclusively by the executor of one run; steps receive a
//     private clone and the executor adopts it only when the step succeeds.
//   - Snapshots handed to observers and the streaming aggregator are clones too,
//     so readers never share memory with the running step.
type ConversationState struct {
	ConversationID string
	UserID         string

	// Messages holds user, assistant and tool entries; append-only within a run.
	Messages []*schema.Message

	// RetrievalContext is set at most once per turn by retrieve_context.
	RetrievalContext string
	// ConversationSummary is the rolling summary carried between turns by the caller.
	ConversationSummary string

	// ToolCallCount is cumulative for the whole run and reset when a run starts.
	ToolCallCount int

	Variables          map[string]any
	LoopState          map[string]any
	ErrorState         map[string]any
	ConditionalResults map[string]any

	// ExecutionHistory logs node names in execution order.
	ExecutionHistory []string

	// ContextStart indexes the first message of the verbatim memory window.
	ContextStart int
	// TurnStart indexes the first message produced for the current turn.
	TurnStart int
}

// NewConversationState builds an empty state for a turn.
func NewConversationState(conversationID, userID string) *ConversationState {
	return &ConversationState{
		ConversationID:     conversationID,
		UserID:             userID,
		Messages:           []*schema.Message{},
		Variables:          map[string]any{},
		LoopState:          map[string]any{},
		ErrorState:         map[string]any{},
		ConditionalResults: map[string]any{},
		ExecutionHistory:   []string{},
	}
}

// LastMessage returns the newest message or nil.
func (s *ConversationState) LastMessage() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// LastUserContent returns the content of the most recent user message.
func (s *ConversationState) LastUserContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m != nil && m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// Append adds messages to the end of the conversation.
func (s *ConversationState) Append(msgs ...*schema.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// ContextMessages returns the messages passed verbatim to the model.
func (s *ConversationState) ContextMessages() []*schema.Message {
	start := s.ContextStart
	if start < 0 || start > len(s.Messages) {
		start = 0
	}
	return s.Messages[start:]
}

// ReplySeparator joins distinct assistant messages of one turn.
const ReplySeparator = "\n\n"

// ReplyText is the turn's reply: assistant text produced since TurnStart,
// joined by ReplySeparator. Streaming and non-streaming runs persist this value.
func ReplyText(s *ConversationState) string {
	return ReplyTextWith(s, "")
}

// ReplyTextWith is ReplyText with a trailing in-flight assistant text appended,
// as produced by a model call that is still streaming.
func ReplyTextWith(s *ConversationState, partial string) string {
	parts := make([]string, 0, 4)
	start := s.TurnStart
	if start < 0 || start > len(s.Messages) {
		start = len(s.Messages)
	}
	for _, m := range s.Messages[start:] {
		if m == nil || m.Role != schema.Assistant || m.Content == "" {
			continue
		}
		parts = append(parts, m.Content)
	}
	if partial != "" {
		parts = append(parts, partial)
	}
	return strings.Join(parts, ReplySeparator)
}

// EstimateStateMB approximates the memory held by the state's messages.
func EstimateStateMB(s *ConversationState) float64 {
	if s == nil {
		return 0
	}
	var n int
	for _, m := range s.Messages {
		if m == nil {
			continue
		}
		n += len(m.Content) + len(m.ReasoningContent) + 64
		for _, tc := range m.ToolCalls {
			n += len(tc.Function.Name) + len(tc.Function.Arguments) + len(tc.ID)
		}
	}
	n += len(s.RetrievalContext) + len(s.ConversationSummary)
	return float64(n) / (1024 * 1024)
}
