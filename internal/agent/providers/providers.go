// Package providers builds the chat models and embedders the workflow runs on.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/chative-core/workflow/internal/agent/model"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewChatModel builds the chat model selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		cm, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return cm, nil
	case ProviderOpenAI, "openrouter", "ollama":
		cm, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewSummaryModel builds the summarization model: the chat provider with the
// summary model name and sampling settings.
func NewSummaryModel(ctx context.Context, cfg model.ModelConfig, summary model.SummaryConfig) (einomodel.ToolCallingChatModel, error) {
	if summary.Model != "" {
		cfg.Model = summary.Model
	}
	cfg.MaxTokens = summary.MaxTokens
	cfg.Temperature = summary.Temperature
	return NewChatModel(ctx, cfg)
}

// NewEmbedder returns nil when no embedding model is configured, in which
// case retrieval runs on keywords only.
func NewEmbedder(cfg model.ModelConfig, retrieval model.RetrievalConfig) (embedding.Embedder, error) {
	if retrieval.EmbeddingModel == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "openrouter", "ollama":
		emb, err := NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, retrieval.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("embeddings are not supported for provider %q", cfg.Provider)
	}
}
