package testutil

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// FakeRetriever returns canned documents and records the last search.
type FakeRetriever struct {
	Docs []*schema.Document
	Err  error

	mu          sync.Mutex
	LastQuery   string
	LastK       int
	LastDocIDs  []string
	LastVector  []float64
	SearchCount int
}

func (r *FakeRetriever) Search(ctx context.Context, query string, embedding []float64, k int, documentIDs []string) ([]*schema.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastQuery, r.LastK, r.LastDocIDs, r.LastVector = query, k, documentIDs, embedding
	r.SearchCount++
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Docs) > k {
		return r.Docs[:k], nil
	}
	return r.Docs, nil
}

// Conversation builds alternating user/assistant messages.
func Conversation(n int) []*schema.Message {
	msgs := make([]*schema.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, schema.UserMessage("user message "+itoa(i)))
		} else {
			msgs = append(msgs, schema.AssistantMessage("assistant message "+itoa(i), nil))
		}
	}
	return msgs
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}
