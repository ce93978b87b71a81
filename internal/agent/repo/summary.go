package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// SummaryStore keeps the rolling summary between turns. The engine returns the
// summary with each result; the transport layer stores it here and passes it
// back on the next turn.
type SummaryStore interface {
	GetSummary(ctx context.Context, conversationID string) (string, error)
	SaveSummary(ctx context.Context, conversationID, summary string) error
}

// RedisSummaryStore stores summaries under conversation:<id>:summary.
type RedisSummaryStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSummaryStore(rdb redis.Cmdable, ttl time.Duration) *RedisSummaryStore {
	return &RedisSummaryStore{rdb: rdb, ttl: ttl}
}

func (r *RedisSummaryStore) key(conversationID string) string {
	return fmt.Sprintf("conversation:%s:summary", conversationID)
}

// GetSummary returns "" for conversations without a summary.
func (r *RedisSummaryStore) GetSummary(ctx context.Context, conversationID string) (string, error) {
	s, err := r.rdb.Get(ctx, r.key(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to load summary from redis")
		return "", errx.WrapRedis(err)
	}
	return s, nil
}

// SaveSummary ignores empty summaries so a turn without condensation never
// erases an earlier one.
func (r *RedisSummaryStore) SaveSummary(ctx context.Context, conversationID, summary string) error {
	if summary == "" {
		return nil
	}
	if err := r.rdb.Set(ctx, r.key(conversationID), summary, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to save summary to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// MemorySummaryStore is the in-process SummaryStore.
type MemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]string
}

func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{summaries: map[string]string{}}
}

func (s *MemorySummaryStore) GetSummary(ctx context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[conversationID], nil
}

func (s *MemorySummaryStore) SaveSummary(ctx context.Context, conversationID, summary string) error {
	if summary == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[conversationID] = summary
	return nil
}

var (
	_ SummaryStore = (*RedisSummaryStore)(nil)
	_ SummaryStore = (*MemorySummaryStore)(nil)
)
