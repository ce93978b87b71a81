package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/model"
)

// ===================================
// Search Documents Tool
// ===================================

const SearchDocumentsName = "search_documents"

type SearchDocumentsInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type DocumentHit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type SearchDocumentsOutput struct {
	Documents []DocumentHit `json:"documents"`
	Total     int           `json:"total"`
}

// SearchDocumentsRules clamps max_results to what the tool honours.
var SearchDocumentsRules = map[string]parsers.ArgRule{
	"query":       {Kind: "string"},
	"max_results": {Kind: "int", Min: 1, Max: 10},
}

// NewSearchDocumentsTool exposes the document store to the model.
func NewSearchDocumentsTool(r model.Retriever) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: SearchDocumentsName,
			Desc: "Search the knowledge base for passages relevant to a question. Returns matching document excerpts with their IDs. Use this tool when the answer may depend on stored documents.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     schema.String,
					Desc:     "Search keywords or a natural-language question.",
					Required: true,
				},
				"max_results": {
					Type: schema.Integer,
					Desc: "Maximum number of passages to return (default: 5, max: 10)",
				},
			}),
		},
		func(ctx context.Context, in *SearchDocumentsInput) (*SearchDocumentsOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			if in.MaxResults <= 0 {
				in.MaxResults = 5
			}

			docs, err := r.Search(ctx, in.Query, nil, in.MaxResults, nil)
			if err != nil {
				return nil, fmt.Errorf("search documents: %w", err)
			}
			out := &SearchDocumentsOutput{Documents: make([]DocumentHit, 0, len(docs))}
			for _, d := range docs {
				if d == nil {
					continue
				}
				out.Documents = append(out.Documents, DocumentHit{ID: d.ID, Content: d.Content, Score: d.Score()})
			}
			out.Total = len(out.Documents)
			return out, nil
		},
	)
}
