package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/model"
)

// ToolSet is the registry of tools the model may call in a run.
type ToolSet struct {
	tools map[string]tool.InvokableTool
	infos []*schema.ToolInfo
	rules map[string]map[string]parsers.ArgRule
}

// NewToolSet resolves the info of every tool. Duplicate names are rejected.
func NewToolSet(ctx context.Context, ts ...tool.InvokableTool) (*ToolSet, error) {
	s := &ToolSet{
		tools: make(map[string]tool.InvokableTool, len(ts)),
		rules: map[string]map[string]parsers.ArgRule{},
	}
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if _, dup := s.tools[info.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", info.Name)
		}
		s.tools[info.Name] = t
		s.infos = append(s.infos, info)
	}
	sort.Slice(s.infos, func(i, j int) bool { return s.infos[i].Name < s.infos[j].Name })
	return s, nil
}

// WithRules sets the argument sanitation rules of a tool.
func (s *ToolSet) WithRules(name string, rules map[string]parsers.ArgRule) *ToolSet {
	s.rules[name] = rules
	return s
}

// Infos returns the tool descriptions bound to the model, sorted by name.
func (s *ToolSet) Infos() []*schema.ToolInfo {
	if s == nil {
		return nil
	}
	return s.infos
}

func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

// Invoke runs one tool call with sanitized arguments.
func (s *ToolSet) Invoke(ctx context.Context, call schema.ToolCall) (string, error) {
	if s == nil {
		return "", fmt.Errorf("unknown tool %q", call.Function.Name)
	}
	t, ok := s.tools[call.Function.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Function.Name)
	}
	args := parsers.SanitizeArguments(call.Function.Arguments, s.rules[call.Function.Name])
	return t.InvokableRun(ctx, args)
}

// Builtin registers the tools shipped with the engine. search_documents is
// only added when a retriever is configured.
func Builtin(ctx context.Context, r model.Retriever, now func() time.Time) (*ToolSet, error) {
	ts := []tool.InvokableTool{NewCurrentTimeTool(now)}
	if r != nil {
		ts = append(ts, NewSearchDocumentsTool(r))
	}
	s, err := NewToolSet(ctx, ts...)
	if err != nil {
		return nil, err
	}
	s.WithRules(CurrentTimeName, CurrentTimeRules)
	if r != nil {
		s.WithRules(SearchDocumentsName, SearchDocumentsRules)
	}
	return s, nil
}
