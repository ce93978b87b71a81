package providers

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// thinkingBudget caps gemini's reasoning tokens per call.
const thinkingBudget = 2000

func newGeminiClient(ctx context.Context, cfg model.ModelConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewGemini builds a gemini chat model. Thoughts are excluded from replies so
// they never reach the persisted conversation.
func NewGemini(ctx context.Context, cfg model.ModelConfig) (*gemini.ChatModel, error) {
	client, err := newGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	temperature, maxTokens := cfg.Temperature, cfg.MaxTokens
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(thinkingBudget)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Model).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model %s: %w", cfg.Model, err)
	}
	return cm, nil
}
