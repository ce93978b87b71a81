package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	openai "github.com/sashabaranov/go-openai"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder produces query embeddings for retrieval.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(apiKey, baseURL, modelName string) (*OpenAIEmbedder, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai embedder: api key or base url is required")
	}
	if modelName == "" {
		modelName = defaultEmbeddingModel
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(config), model: modelName}, nil
}

func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	name := e.model
	o := embedding.GetCommonOptions(&embedding.Options{Model: &name}, opts...)

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(*o.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		v := make([]float64, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float64(f)
		}
		out[d.Index] = v
	}
	return out, nil
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)
