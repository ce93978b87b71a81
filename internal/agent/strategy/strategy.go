// Package strategy maps a workflow kind and request onto a graph configuration
// and run limits.
package strategy

import (
	"fmt"
	"sort"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// Profile is the shape of one workflow kind.
type Profile struct {
	Window       int
	MaxToolCalls int
	MaxDocuments int
	Retrieval    bool
	Tools        bool
}

// DefaultProfiles is the built-in strategy table.
func DefaultProfiles() map[model.WorkflowKind]Profile {
	return map[model.WorkflowKind]Profile{
		model.KindPlain:     {Window: 20},
		model.KindRetrieval: {Window: 30, MaxDocuments: 10, Retrieval: true},
		model.KindTools:     {Window: 100, MaxToolCalls: 10, Tools: true},
		model.KindFull:      {Window: 50, MaxToolCalls: 5, MaxDocuments: 10, Retrieval: true, Tools: true},
	}
}

// Registry holds the strategy table. It is built once at start-up and shared
// read-only by every request.
type Registry struct {
	profiles map[model.WorkflowKind]Profile
	limits   model.WorkflowLimits
}

// Option configures a Registry.
type Option func(*Registry) error

// WithProfile replaces or adds the profile of kind.
func WithProfile(kind model.WorkflowKind, p Profile) Option {
	return func(r *Registry) error {
		r.profiles[kind] = p
		return nil
	}
}

// NewRegistry builds a registry over the default table and validates every
// profile by building its graph once.
func NewRegistry(limits model.WorkflowLimits, opts ...Option) (*Registry, error) {
	r := &Registry{profiles: DefaultProfiles(), limits: limits}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if err := r.limits.Validate(); err != nil {
		return nil, fmt.Errorf("strategy limits: %w", err)
	}
	if _, ok := r.profiles[model.KindPlain]; !ok {
		return nil, fmt.Errorf("strategy table has no %q profile", model.KindPlain)
	}
	for kind, p := range r.profiles {
		if _, err := buildGraph(kind, p, model.ChatRequest{}); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", kind, err)
		}
	}
	return r, nil
}

// Limits returns the default run limits.
func (r *Registry) Limits() model.WorkflowLimits {
	return r.limits
}

// Kinds lists the registered workflow kinds.
func (r *Registry) Kinds() []model.WorkflowKind {
	kinds := make([]model.WorkflowKind, 0, len(r.profiles))
	for k := range r.profiles {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Resolve returns the profile of kind, falling back to plain for unknown kinds.
func (r *Registry) Resolve(kind model.WorkflowKind) (model.WorkflowKind, Profile) {
	kind = model.ParseWorkflowKind(string(kind))
	if p, ok := r.profiles[kind]; ok {
		return kind, p
	}
	logx.Warn().Str("workflow_type", string(kind)).Msg("Unknown workflow type; falling back to plain")
	return model.KindPlain, r.profiles[model.KindPlain]
}

// Build returns the graph configuration and limits for one request.
func (r *Registry) Build(kind model.WorkflowKind, req model.ChatRequest) (graph.Config, model.WorkflowLimits, error) {
	resolved, p := r.Resolve(kind)
	cfg, err := buildGraph(resolved, p, req)
	if err != nil {
		return graph.Config{}, model.WorkflowLimits{}, err
	}
	return cfg, r.limits, nil
}

func buildGraph(kind model.WorkflowKind, p Profile, req model.ChatRequest) (graph.Config, error) {
	b := graph.NewBuilder(string(kind)).AddNode(graph.ManageMemory{Window: p.Window})

	if p.Retrieval && req.RetrievalEnabled() {
		b.AddNode(graph.RetrieveContext{MaxDocuments: p.MaxDocuments, DocumentIDs: req.DocumentIDs}).
			AddEdge(graph.NodeManageMemory, graph.NodeRetrieveContext).
			AddEdge(graph.NodeRetrieveContext, graph.NodeModelCall)
	} else {
		b.AddEdge(graph.NodeManageMemory, graph.NodeModelCall)
	}

	b.AddNode(graph.ModelCall{
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		ToolsEnabled: p.Tools,
	})

	if p.Tools {
		b.AddNode(graph.ExecuteTools{MaxToolCalls: p.MaxToolCalls}).
			AddNode(graph.FinalizeResponse{MaxToolCalls: p.MaxToolCalls}).
			AddEdge(graph.NodeExecuteTools, graph.NodeModelCall).
			WithToolBudget(p.MaxToolCalls)
	}
	return b.Build()
}
