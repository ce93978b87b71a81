package repo

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/chative-core/workflow/internal/agent/model"
)

// MemoryMessageService keeps messages in process memory. It backs the CLI and
// tests when no Redis is configured.
type MemoryMessageService struct {
	mu            sync.RWMutex
	messages      map[string]*model.StoredMessage
	conversations map[string][]string
	now           func() time.Time
}

func NewMemoryMessageService() *MemoryMessageService {
	return &MemoryMessageService{
		messages:      map[string]*model.StoredMessage{},
		conversations: map[string][]string{},
		now:           time.Now,
	}
}

func (s *MemoryMessageService) AddMessage(ctx context.Context, conversationID, userID string, role schema.RoleType, content string, metadata map[string]any) (*model.StoredMessage, error) {
	msg := &model.StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Metadata:       maps.Clone(metadata),
		CreatedAt:      s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	s.conversations[conversationID] = append(s.conversations[conversationID], msg.ID)
	return copyMessage(msg), nil
}

func (s *MemoryMessageService) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	msg.Content = content
	delete(msg.Metadata, "status")
	return nil
}

func (s *MemoryMessageService) GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]*model.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.conversations[conversationID]
	if limit >= 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*model.StoredMessage, 0, len(ids))
	for _, id := range ids {
		msg := s.messages[id]
		if userID != "" && msg.UserID != "" && msg.UserID != userID {
			continue
		}
		out = append(out, copyMessage(msg))
	}
	return out, nil
}

// Get returns a copy of one message.
func (s *MemoryMessageService) Get(messageID string) (*model.StoredMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, false
	}
	return copyMessage(msg), true
}

func copyMessage(m *model.StoredMessage) *model.StoredMessage {
	c := *m
	c.Metadata = maps.Clone(m.Metadata)
	return &c
}

var _ model.MessageService = (*MemoryMessageService)(nil)
