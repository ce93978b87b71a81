package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

const retrievedKey = "retrieved"

type retrieveContextStep struct {
	spec      graph.RetrieveContext
	retriever model.Retriever
	embedder  embedding.Embedder
}

func (s *retrieveContextStep) Kind() graph.NodeKind { return graph.NodeRetrieveContext }

// Run searches once per turn for the latest user message. Errors are returned
// so the executor degrades the turn to an empty retrieval context.
func (s *retrieveContextStep) Run(ctx context.Context, state *model.ConversationState) (graph.Outcome, error) {
	if done, _ := state.LoopState[retrievedKey].(bool); done {
		return graph.Outcome{}, nil
	}
	state.LoopState[retrievedKey] = true

	query := state.LastUserContent()
	if query == "" || s.retriever == nil {
		return graph.Outcome{}, nil
	}

	var vector []float64
	if s.embedder != nil {
		vecs, err := s.embedder.EmbedStrings(ctx, []string{query})
		if err != nil {
			return graph.Outcome{}, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) > 0 {
			vector = vecs[0]
		}
	}

	docs, err := s.retriever.Search(ctx, query, vector, s.spec.MaxDocuments, s.spec.DocumentIDs)
	if err != nil {
		return graph.Outcome{}, fmt.Errorf("search documents: %w", err)
	}
	if len(docs) > s.spec.MaxDocuments {
		docs = docs[:s.spec.MaxDocuments]
	}
	state.RetrievalContext = formatDocuments(docs)

	logx.Ctx(ctx).Debug().
		Int("documents", len(docs)).
		Int("max_documents", s.spec.MaxDocuments).
		Msg("Retrieved context")
	return graph.Outcome{}, nil
}
