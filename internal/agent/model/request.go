package model

import "strings"

// WorkflowKind selects an execution strategy.
type WorkflowKind string

const (
	KindPlain     WorkflowKind = "plain"
	KindRetrieval WorkflowKind = "retrieval"
	KindTools     WorkflowKind = "tools"
	KindFull      WorkflowKind = "full"
)

// ParseWorkflowKind normalises v; unknown values are returned as-is so the
// strategy selector can log and fall back.
func ParseWorkflowKind(v string) WorkflowKind {
	switch k := WorkflowKind(strings.ToLower(strings.TrimSpace(v))); k {
	case "", "chat", "basic":
		return KindPlain
	case "rag":
		return KindRetrieval
	case "tool", "tool_enabled":
		return KindTools
	default:
		return k
	}
}

// ChatRequest is the per-turn request consumed by the engine.
type ChatRequest struct {
	Message         string       `json:"message"`
	Kind            WorkflowKind `json:"workflow_type,omitempty"`
	SystemPrompt    string       `json:"system_prompt,omitempty"`
	Temperature     *float32     `json:"temperature,omitempty"`
	MaxTokens       *int         `json:"max_tokens,omitempty"`
	DocumentIDs     []string     `json:"document_ids,omitempty"`
	EnableRetrieval *bool        `json:"enable_retrieval,omitempty"`
}

// RetrievalEnabled defaults to true when the flag is absent.
func (r ChatRequest) RetrievalEnabled() bool {
	return r.EnableRetrieval == nil || *r.EnableRetrieval
}

// Conversation is the caller-owned conversation the turn belongs to.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Summary is the rolling summary returned by the previous turn.
	Summary string `json:"summary,omitempty"`
}
