package strategy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chative-core/workflow/internal/agent/model"
)

// profileOverride carries only the fields present in the file.
type profileOverride struct {
	Window       *int  `yaml:"memory_window"`
	MaxToolCalls *int  `yaml:"max_tool_calls"`
	MaxDocuments *int  `yaml:"max_documents"`
	Retrieval    *bool `yaml:"retrieval"`
	Tools        *bool `yaml:"tools"`
}

type overridesFile struct {
	Limits     *model.WorkflowLimits      `yaml:"limits"`
	Strategies map[string]profileOverride `yaml:"strategies"`
}

// WithOverrides applies a YAML document of the form
//
//	limits:
//	  step_timeout: 30s
//	strategies:
//	  tools:
//	    max_tool_calls: 4
//
// on top of the defaults. Unknown strategy names add new kinds.
func WithOverrides(r io.Reader) Option {
	return func(reg *Registry) error {
		limits := reg.limits
		file := overridesFile{Limits: &limits}
		if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
			return fmt.Errorf("decode strategy overrides: %w", err)
		}
		if file.Limits != nil {
			reg.limits = *file.Limits
		}
		for name, o := range file.Strategies {
			kind := model.ParseWorkflowKind(name)
			p := reg.profiles[kind]
			if o.Window != nil {
				p.Window = *o.Window
			}
			if o.MaxToolCalls != nil {
				p.MaxToolCalls = *o.MaxToolCalls
			}
			if o.MaxDocuments != nil {
				p.MaxDocuments = *o.MaxDocuments
			}
			if o.Retrieval != nil {
				p.Retrieval = *o.Retrieval
			}
			if o.Tools != nil {
				p.Tools = *o.Tools
			}
			reg.profiles[kind] = p
		}
		return nil
	}
}

// WithOverridesFile is WithOverrides over a file; an empty path is a no-op.
func WithOverridesFile(path string) Option {
	return func(reg *Registry) error {
		if path == "" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open strategy overrides: %w", err)
		}
		defer f.Close()
		return WithOverrides(f)(reg)
	}
}
