package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chative-core/workflow/internal/agent/model"
	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// RedisMessageService stores every message as JSON under message:<id> and
// keeps the conversation order in the list conversation:<id>:messages.
type RedisMessageService struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedisMessageService(rdb redis.Cmdable, ttl time.Duration) *RedisMessageService {
	return &RedisMessageService{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *RedisMessageService) conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *RedisMessageService) messageKey(messageID string) string {
	return fmt.Sprintf("message:%s", messageID)
}

func (r *RedisMessageService) AddMessage(ctx context.Context, conversationID, userID string, role schema.RoleType, content string, metadata map[string]any) (*model.StoredMessage, error) {
	msg := &model.StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      r.now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to marshal message")
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	key := r.conversationKey(conversationID)
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.messageKey(msg.ID), b, r.ttl)
	pipe.RPush(ctx, key, msg.ID)
	if r.ttl > 0 {
		// extend TTL on touch
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append message to redis")
		return nil, errx.WrapRedis(err)
	}
	return msg, nil
}

func (r *RedisMessageService) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	key := r.messageKey(messageID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logx.Error().Err(err).Str("key", key).Msg("failed to load message from redis")
		}
		return errx.WrapRedis(err)
	}

	var msg model.StoredMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal message %s: %w", messageID, err)
	}
	msg.Content = content
	delete(msg.Metadata, "status")

	b, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.rdb.Set(ctx, key, b, redis.KeepTTL).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to update message in redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisMessageService) GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]*model.StoredMessage, error) {
	if limit <= 0 {
		return []*model.StoredMessage{}, nil
	}
	key := r.conversationKey(conversationID)

	ids, err := r.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*model.StoredMessage{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, errx.WrapRedis(err)
	}
	if len(ids) == 0 {
		return []*model.StoredMessage{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.messageKey(id)
	}
	rows, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load messages from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*model.StoredMessage, 0, len(rows))
	for i, row := range rows {
		s, ok := row.(string)
		if !ok {
			// expired message whose id is still listed
			continue
		}
		var m model.StoredMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("conversationID", conversationID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		if userID != "" && m.UserID != "" && m.UserID != userID {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// ClearHistory removes the conversation index and its messages.
func (r *RedisMessageService) ClearHistory(ctx context.Context, conversationID string) error {
	key := r.conversationKey(conversationID)
	ids, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errx.WrapRedis(err)
	}
	keys := []string{key}
	for _, id := range ids {
		keys = append(keys, r.messageKey(id))
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete conversation history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.MessageService = (*RedisMessageService)(nil)
