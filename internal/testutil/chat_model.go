package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply is one scripted model response.
type Reply struct {
	Content   string
	ToolCalls []schema.ToolCall
	Usage     *schema.TokenUsage
	Err       error
	// Delay blocks the call (honouring ctx) before answering.
	Delay time.Duration
	// Chunks splits Content for Stream; defaults to one chunk per word.
	Chunks []string
	// StreamErr is returned by Recv after the chunks, instead of EOF.
	StreamErr error
}

// ScriptedModel answers calls from a script; the last reply repeats once the
// script is exhausted. It records every input it receives.
type ScriptedModel struct {
	mu      sync.Mutex
	script  []Reply
	calls   [][]*schema.Message
	tools   []*schema.ToolInfo
	options []*einomodel.Options
}

func NewScriptedModel(script ...Reply) *ScriptedModel {
	return &ScriptedModel{script: script}
}

// AlwaysToolCall returns a model that requests the named tool on every call.
func AlwaysToolCall(toolName string) *ScriptedModel {
	return NewScriptedModel(Reply{
		ToolCalls: []schema.ToolCall{{
			ID:       "call",
			Type:     "function",
			Function: schema.FunctionCall{Name: toolName, Arguments: `{"query":"again"}`},
		}},
		Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

func (m *ScriptedModel) next(input []*schema.Message, opts []einomodel.Option) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
	m.options = append(m.options, einomodel.GetCommonOptions(&einomodel.Options{}, opts...))
	if len(m.script) == 0 {
		return Reply{Content: "ok"}
	}
	r := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return r
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (r Reply) message() *schema.Message {
	msg := schema.AssistantMessage(r.Content, r.ToolCalls)
	if r.Usage != nil {
		u := *r.Usage
		msg.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop", Usage: &u}
	}
	return msg
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	r := m.next(input, opts)
	if err := wait(ctx, r.Delay); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.message(), nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	r := m.next(input, opts)
	if err := wait(ctx, r.Delay); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}

	pieces := r.Chunks
	if len(pieces) == 0 {
		pieces = splitWords(r.Content)
	}
	chunks := make([]*schema.Message, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: p})
	}
	last := &schema.Message{Role: schema.Assistant, ToolCalls: r.ToolCalls}
	if r.Usage != nil {
		u := *r.Usage
		last.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop", Usage: &u}
	}
	if r.StreamErr == nil {
		chunks = append(chunks, last)
		return schema.StreamReaderFromArray(chunks), nil
	}

	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			if closed := sw.Send(c, nil); closed {
				return
			}
		}
		sw.Send(nil, r.StreamErr)
	}()
	return sr, nil
}

// WithTools records the bound tools and returns the same model.
func (m *ScriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

// Calls returns the inputs of every call so far.
func (m *ScriptedModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// Options returns the resolved common options of every call so far.
func (m *ScriptedModel) Options() []*einomodel.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*einomodel.Options(nil), m.options...)
}

// BoundTools returns the tools passed to WithTools.
func (m *ScriptedModel) BoundTools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// ErrScripted is a convenient scripted failure.
var ErrScripted = errors.New("scripted model failure")

func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}

var _ einomodel.ToolCallingChatModel = (*ScriptedModel)(nil)
