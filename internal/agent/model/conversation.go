package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// StoredMessage is a persisted message row as returned by the message service.
type StoredMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           schema.RoleType `json:"role"`
	Content        string          `json:"content"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MessageService owns conversation and message rows. The engine appends and
// updates through it but never mutates persisted state directly.
type MessageService interface {
	// AddMessage appends a message to the conversation and returns the stored row.
	AddMessage(ctx context.Context, conversationID, userID string, role schema.RoleType, content string, metadata map[string]any) (*StoredMessage, error)

	// UpdateMessageContent replaces the content of an existing message.
	UpdateMessageContent(ctx context.Context, messageID, content string) error

	// GetRecentMessages returns up to limit most recent messages, oldest first.
	GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]*StoredMessage, error)
}

// Retriever is the vector-search collaborator used by retrieve_context.
type Retriever interface {
	// Search returns up to k documents ranked by relevance. embedding may be nil
	// when no embedder is configured; documentIDs restricts the search when set.
	Search(ctx context.Context, query string, embedding []float64, k int, documentIDs []string) ([]*schema.Document, error)
}
