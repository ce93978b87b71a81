package retrieval

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/model"
)

// einoRetriever serves the Retriever contract from an eino retriever. eino
// retrievers embed queries themselves, so the precomputed vector is unused.
type einoRetriever struct {
	r retriever.Retriever
}

// FromEino adapts an eino retriever, such as a vector-store component from
// eino-ext, to the workflow's Retriever contract.
func FromEino(r retriever.Retriever) model.Retriever {
	return &einoRetriever{r: r}
}

func (e *einoRetriever) Search(ctx context.Context, query string, _ []float64, k int, documentIDs []string) ([]*schema.Document, error) {
	topK := k
	if len(documentIDs) > 0 {
		// The filter is applied after retrieval; over-fetch to keep k results.
		topK = k * 4
	}
	docs, err := e.r.Retrieve(ctx, query, retriever.WithTopK(topK))
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(documentIDs) > 0 {
		allowed := make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = true
		}
		filtered := docs[:0]
		for _, d := range docs {
			if d != nil && allowed[d.ID] {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}
