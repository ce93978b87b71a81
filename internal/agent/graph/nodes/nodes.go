package nodes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/tools"
	"github.com/chative-core/workflow/internal/agent/memory"
	"github.com/chative-core/workflow/internal/agent/model"
)

// Deps are the collaborators steps are built from. Only Chat is mandatory;
// a missing collaborator makes the matching node degrade.
type Deps struct {
	Chat      einomodel.BaseChatModel
	Memory    *memory.Manager
	Retriever model.Retriever
	Embedder  embedding.Embedder
	Tools     *tools.ToolSet
	Prompt    model.PromptConfig
	Exec      model.ToolsConfig
}

// Factory builds graph steps from node specs.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) (*Factory, error) {
	if deps.Chat == nil {
		return nil, errors.New("nodes: chat model is required")
	}
	if deps.Exec.Parallelism <= 0 {
		deps.Exec.Parallelism = 1
	}
	return &Factory{deps: deps}, nil
}

// Build implements graph.StepFactory.
func (f *Factory) Build(spec graph.NodeSpec) (graph.Step, error) {
	switch s := spec.(type) {
	case graph.ManageMemory:
		return &manageMemoryStep{spec: s, mem: f.deps.Memory}, nil
	case graph.RetrieveContext:
		return &retrieveContextStep{spec: s, retriever: f.deps.Retriever, embedder: f.deps.Embedder}, nil
	case graph.ModelCall:
		chat := f.deps.Chat
		toolsEnabled := s.ToolsEnabled && f.deps.Tools.Len() > 0
		if toolsEnabled {
			tc, ok := chat.(einomodel.ToolCallingChatModel)
			if !ok {
				return nil, fmt.Errorf("model_call: chat model %T cannot call tools", chat)
			}
			bound, err := tc.WithTools(f.deps.Tools.Infos())
			if err != nil {
				return nil, fmt.Errorf("model_call: bind tools: %w", err)
			}
			chat = bound
		}
		return &modelCallStep{spec: s, chat: chat, prompt: f.deps.Prompt, toolsEnabled: toolsEnabled}, nil
	case graph.ExecuteTools:
		parallel := s.Parallel || f.deps.Exec.Parallel
		return &executeToolsStep{spec: s, tools: f.deps.Tools, parallel: parallel, limit: f.deps.Exec.Parallelism}, nil
	case graph.FinalizeResponse:
		return &finalizeStep{spec: s, chat: f.deps.Chat, prompt: f.deps.Prompt}, nil
	default:
		return nil, fmt.Errorf("nodes: unsupported node spec %T", spec)
	}
}

// callOptions converts per-request overrides into model options.
func callOptions(temperature *float32, maxTokens *int) []einomodel.Option {
	var opts []einomodel.Option
	if temperature != nil {
		opts = append(opts, einomodel.WithTemperature(*temperature))
	}
	if maxTokens != nil {
		opts = append(opts, einomodel.WithMaxTokens(*maxTokens))
	}
	return opts
}

// contextWindow returns the verbatim messages for the prompt. Tool results at
// the start of the window lost their assistant call to the summary and are
// dropped, providers reject them otherwise.
func contextWindow(state *model.ConversationState) []*schema.Message {
	msgs := state.ContextMessages()
	for len(msgs) > 0 && (msgs[0] == nil || msgs[0].Role == schema.Tool) {
		msgs = msgs[1:]
	}
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// formatDocuments renders retrieved documents as numbered passages.
func formatDocuments(docs []*schema.Document) string {
	var b strings.Builder
	n := 0
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d]", n)
		if d.ID != "" {
			fmt.Fprintf(&b, " (%s)", d.ID)
		}
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(d.Content))
	}
	return b.String()
}
