package testutil

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// FakeTool is an invokable tool with a canned result.
type FakeTool struct {
	Name   string
	Result string
	Err    error

	mu    sync.Mutex
	calls []string
}

func NewFakeTool(name, result string) *FakeTool {
	return &FakeTool{Name: name, Result: result}
}

func (t *FakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name,
		Desc: "fake tool " + t.Name,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "query", Required: true},
		}),
	}, nil
}

func (t *FakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, argumentsInJSON)
	t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	return t.Result, nil
}

// Calls returns the arguments of every invocation.
func (t *FakeTool) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

var _ tool.InvokableTool = (*FakeTool)(nil)
