package conversations

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/model"
)

// Metadata keys written on persisted messages.
const (
	MetaCorrelationID = "correlation_id"
	MetaStatus        = "status"
	MetaWorkflow      = "workflow_type"

	StatusStreaming = "streaming"
)

// MessagesManager adapts the message service to eino messages.
type MessagesManager struct {
	messages     model.MessageService
	historyLimit int
}

func NewMessagesManager(messages model.MessageService, config model.MemoryConfig) *MessagesManager {
	limit := config.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	return &MessagesManager{
		messages:     messages,
		historyLimit: limit,
	}
}

// LoadHistory returns the persisted user and assistant messages, oldest first.
// Empty rows, such as abandoned streaming placeholders, are skipped.
func (cm *MessagesManager) LoadHistory(ctx context.Context, conversationID, userID string) ([]*schema.Message, error) {
	rows, err := cm.messages.GetRecentMessages(ctx, conversationID, userID, cm.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := make([]*schema.Message, 0, len(rows))
	for _, row := range rows {
		if row == nil || strings.TrimSpace(row.Content) == "" {
			continue
		}
		switch row.Role {
		case schema.User:
			history = append(history, schema.UserMessage(row.Content))
		case schema.Assistant:
			history = append(history, schema.AssistantMessage(row.Content, nil))
		}
	}
	return trimTail(history, cm.historyLimit), nil
}

// SaveUserMessage persists the turn's user message.
func (cm *MessagesManager) SaveUserMessage(ctx context.Context, conversationID, userID, content string, metadata map[string]any) (*model.StoredMessage, error) {
	msg, err := cm.messages.AddMessage(ctx, conversationID, userID, schema.User, content, metadata)
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	return msg, nil
}

// CreatePlaceholder persists an empty assistant message that streaming fills
// in once the run completes.
func (cm *MessagesManager) CreatePlaceholder(ctx context.Context, conversationID, userID, correlationID string) (*model.StoredMessage, error) {
	msg, err := cm.messages.AddMessage(ctx, conversationID, userID, schema.Assistant, "", map[string]any{
		MetaCorrelationID: correlationID,
		MetaStatus:        StatusStreaming,
	})
	if err != nil {
		return nil, fmt.Errorf("create placeholder: %w", err)
	}
	return msg, nil
}

// UpdateContent replaces the content of a persisted message.
func (cm *MessagesManager) UpdateContent(ctx context.Context, messageID, content string) error {
	if err := cm.messages.UpdateMessageContent(ctx, messageID, content); err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	return nil
}

// SaveResponse persists a completed assistant reply.
func (cm *MessagesManager) SaveResponse(ctx context.Context, conversationID, userID, content string, metadata map[string]any) (*model.StoredMessage, error) {
	msg, err := cm.messages.AddMessage(ctx, conversationID, userID, schema.Assistant, content, metadata)
	if err != nil {
		return nil, fmt.Errorf("save response: %w", err)
	}
	return msg, nil
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, max int) []*schema.Message {
	if len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}
