package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// OpenAIChatModel adapts an OpenAI-compatible chat completions API to eino.
// It works against OpenAI itself and compatible gateways such as OpenRouter
// or Ollama through BaseURL.
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	tools       []openai.Tool
}

func NewOpenAI(cfg model.ModelConfig) (*OpenAIChatModel, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api key or base url is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// WithTools returns a copy of the model bound to tools.
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	converted, err := convertTools(tools)
	if err != nil {
		return nil, err
	}
	cp := *m
	cp.tools = converted
	return &cp, nil
}

func (m *OpenAIChatModel) request(input []*schema.Message, opts []einomodel.Option) (openai.ChatCompletionRequest, error) {
	temperature, maxTokens, name := m.temperature, m.maxTokens, m.model
	o := einomodel.GetCommonOptions(&einomodel.Options{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Model:       &name,
	}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    *o.Model,
		Messages: convertMessages(input),
		Tools:    m.tools,
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		req.MaxTokens = *o.MaxTokens
	}
	if o.TopP != nil {
		req.TopP = *o.TopP
	}
	if len(o.Stop) > 0 {
		req.Stop = o.Stop
	}
	if len(o.Tools) > 0 {
		tools, err := convertTools(o.Tools)
		if err != nil {
			return req, err
		}
		req.Tools = tools
	}
	return req, nil
}

func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	req, err := m.request(input, opts)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion returned no choices")
	}

	choice := resp.Choices[0]
	msg := schema.AssistantMessage(choice.Message.Content, fromOpenAIToolCalls(choice.Message.ToolCalls))
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(choice.FinishReason),
		Usage:        tokenUsage(&resp.Usage),
	}
	return msg, nil
}

func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.request(input, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer sw.Close()
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, fmt.Errorf("openai stream: %w", err))
				return
			}
			if msg := streamDelta(resp); msg != nil {
				if closed := sw.Send(msg, nil); closed {
					logx.Ctx(ctx).Debug().Msg("Stream reader closed; stopping openai stream")
					return
				}
			}
		}
	}()
	return sr, nil
}

// streamDelta converts one stream event. Tool call fragments keep their index
// so schema.ConcatMessages can merge them.
func streamDelta(resp openai.ChatCompletionStreamResponse) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant}
	if resp.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: tokenUsage(resp.Usage)}
	}
	if len(resp.Choices) == 0 {
		if msg.ResponseMeta == nil {
			return nil
		}
		return msg
	}

	choice := resp.Choices[0]
	msg.Content = choice.Delta.Content
	for _, tc := range choice.Delta.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			Index: tc.Index,
			ID:    tc.ID,
			Type:  string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if choice.FinishReason != "" {
		if msg.ResponseMeta == nil {
			msg.ResponseMeta = &schema.ResponseMeta{}
		}
		msg.ResponseMeta.FinishReason = string(choice.FinishReason)
	}
	return msg
}

func tokenUsage(u *openai.Usage) *schema.TokenUsage {
	if u == nil {
		return nil
	}
	return &schema.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func convertMessages(input []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case schema.Assistant:
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		case schema.Tool:
			m.ToolCallID = msg.ToolCallID
		}
		out = append(out, m)
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, schema.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func convertTools(tools []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			js, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			if js != nil {
				params = js
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

var _ einomodel.ToolCallingChatModel = (*OpenAIChatModel)(nil)
