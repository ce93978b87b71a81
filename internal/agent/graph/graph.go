package graph

import (
	"errors"
	"fmt"
)

// NodeKind names a node of the workflow graph.
type NodeKind string

const (
	NodeManageMemory     NodeKind = "manage_memory"
	NodeRetrieveContext  NodeKind = "retrieve_context"
	NodeModelCall        NodeKind = "model_call"
	NodeExecuteTools     NodeKind = "execute_tools"
	NodeFinalizeResponse NodeKind = "finalize_response"

	// End is the terminal pseudo-node.
	End NodeKind = "end"
)

// NodeSpec is the closed set of node configurations. Each variant carries
// only the fields its node needs.
type NodeSpec interface {
	Kind() NodeKind
	validate() error
}

// ManageMemory condenses history older than Window into the rolling summary.
type ManageMemory struct {
	Window int
}

// RetrieveContext loads up to MaxDocuments documents for the user's message.
type RetrieveContext struct {
	MaxDocuments int
	DocumentIDs  []string
}

// ModelCall invokes the chat model with the assembled prompt.
type ModelCall struct {
	SystemPrompt string
	Temperature  *float32
	MaxTokens    *int
	ToolsEnabled bool
}

// ExecuteTools runs the tool calls requested by the last assistant message.
type ExecuteTools struct {
	MaxToolCalls int
	Parallel     bool
}

// FinalizeResponse closes a run whose tool budget is exhausted.
type FinalizeResponse struct {
	MaxToolCalls int
}

func (ManageMemory) Kind() NodeKind     { return NodeManageMemory }
func (RetrieveContext) Kind() NodeKind  { return NodeRetrieveContext }
func (ModelCall) Kind() NodeKind        { return NodeModelCall }
func (ExecuteTools) Kind() NodeKind     { return NodeExecuteTools }
func (FinalizeResponse) Kind() NodeKind { return NodeFinalizeResponse }

func (n ManageMemory) validate() error {
	if n.Window <= 0 {
		return fmt.Errorf("manage_memory: window must be positive, got %d", n.Window)
	}
	return nil
}

func (n RetrieveContext) validate() error {
	if n.MaxDocuments <= 0 {
		return fmt.Errorf("retrieve_context: max documents must be positive, got %d", n.MaxDocuments)
	}
	return nil
}

func (n ModelCall) validate() error {
	if n.MaxTokens != nil && *n.MaxTokens <= 0 {
		return fmt.Errorf("model_call: max tokens must be positive, got %d", *n.MaxTokens)
	}
	if n.Temperature != nil && (*n.Temperature < 0 || *n.Temperature > 2) {
		return fmt.Errorf("model_call: temperature out of range: %v", *n.Temperature)
	}
	return nil
}

func (n ExecuteTools) validate() error {
	if n.MaxToolCalls <= 0 {
		return fmt.Errorf("execute_tools: max tool calls must be positive, got %d", n.MaxToolCalls)
	}
	return nil
}

func (n FinalizeResponse) validate() error {
	if n.MaxToolCalls <= 0 {
		return fmt.Errorf("finalize_response: max tool calls must be positive, got %d", n.MaxToolCalls)
	}
	return nil
}

// MaxStepsFor is the step backstop for a tool budget. It leaves room for every
// allowed tool round trip plus the surrounding nodes, so the tool guard's
// finalize branch is always reached first.
func MaxStepsFor(maxToolCalls int) int {
	n := 3*maxToolCalls + 10
	if n < 25 {
		n = 25
	}
	return n
}

// Config is a validated graph description. model_call has no static edge:
// its successor is chosen by the tool-call guard.
type Config struct {
	Name         string
	Entry        NodeKind
	Nodes        map[NodeKind]NodeSpec
	Edges        map[NodeKind]NodeKind
	MaxToolCalls int
	MaxSteps     int
}

// Has reports whether kind is wired into the graph.
func (c Config) Has(kind NodeKind) bool {
	_, ok := c.Nodes[kind]
	return ok
}

// Validate checks the structural invariants of the graph.
func (c Config) Validate() error {
	var errs []error
	if !c.Has(c.Entry) {
		errs = append(errs, fmt.Errorf("entry node %q is not wired", c.Entry))
	}
	if !c.Has(NodeModelCall) {
		errs = append(errs, errors.New("graph has no model_call node"))
	}
	for kind, spec := range c.Nodes {
		if spec == nil || spec.Kind() != kind {
			errs = append(errs, fmt.Errorf("node %q registered with mismatched spec", kind))
			continue
		}
		if err := spec.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for from, to := range c.Edges {
		if !c.Has(from) {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
		if to != End && !c.Has(to) {
			errs = append(errs, fmt.Errorf("edge %q -> unknown node %q", from, to))
		}
	}
	if _, ok := c.Edges[NodeModelCall]; ok {
		errs = append(errs, errors.New("model_call successor is chosen by the tool guard; remove its static edge"))
	}
	if _, ok := c.Edges[NodeFinalizeResponse]; ok {
		errs = append(errs, errors.New("finalize_response is terminal; remove its static edge"))
	}
	for kind := range c.Nodes {
		switch kind {
		case NodeModelCall, NodeFinalizeResponse:
		default:
			if _, ok := c.Edges[kind]; !ok {
				errs = append(errs, fmt.Errorf("node %q has no outgoing edge", kind))
			}
		}
	}
	if c.Has(NodeExecuteTools) {
		if !c.Has(NodeFinalizeResponse) {
			errs = append(errs, errors.New("execute_tools requires finalize_response"))
		}
		if c.Edges[NodeExecuteTools] != NodeModelCall {
			errs = append(errs, errors.New("execute_tools must loop back to model_call"))
		}
		if c.MaxToolCalls <= 0 {
			errs = append(errs, errors.New("tool-enabled graph needs a positive tool budget"))
		}
	}
	if c.MaxSteps < MaxStepsFor(c.MaxToolCalls) {
		errs = append(errs, fmt.Errorf("max steps %d below backstop %d", c.MaxSteps, MaxStepsFor(c.MaxToolCalls)))
	}
	return errors.Join(errs...)
}

// Builder assembles a Config.
type Builder struct {
	cfg  Config
	errs []error
}

func NewBuilder(name string) *Builder {
	return &Builder{cfg: Config{
		Name:  name,
		Nodes: map[NodeKind]NodeSpec{},
		Edges: map[NodeKind]NodeKind{},
	}}
}

// AddNode wires a node; the first node added becomes the entry unless SetEntry is called.
func (b *Builder) AddNode(spec NodeSpec) *Builder {
	kind := spec.Kind()
	if _, dup := b.cfg.Nodes[kind]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q added twice", kind))
		return b
	}
	if b.cfg.Entry == "" {
		b.cfg.Entry = kind
	}
	b.cfg.Nodes[kind] = spec
	return b
}

func (b *Builder) AddEdge(from, to NodeKind) *Builder {
	if prev, dup := b.cfg.Edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q already routes to %q", from, prev))
		return b
	}
	b.cfg.Edges[from] = to
	return b
}

func (b *Builder) SetEntry(kind NodeKind) *Builder {
	b.cfg.Entry = kind
	return b
}

// WithToolBudget sets the tool cap and derives the step backstop from it.
func (b *Builder) WithToolBudget(maxToolCalls int) *Builder {
	b.cfg.MaxToolCalls = maxToolCalls
	return b
}

func (b *Builder) Build() (Config, error) {
	if b.cfg.MaxSteps == 0 {
		b.cfg.MaxSteps = MaxStepsFor(b.cfg.MaxToolCalls)
	}
	if err := errors.Join(append(b.errs, b.cfg.Validate())...); err != nil {
		return Config{}, fmt.Errorf("invalid graph %q: %w", b.cfg.Name, err)
	}
	return b.cfg, nil
}
