package model

import (
	"fmt"
	"time"
)

// WorkflowLimits are the hard caps of one run. Immutable once a run starts.
type WorkflowLimits struct {
	ExecutionTimeout time.Duration `envconfig:"WORKFLOW_EXECUTION_TIMEOUT" default:"300s" yaml:"execution_timeout"`
	StepTimeout      time.Duration `envconfig:"WORKFLOW_STEP_TIMEOUT" default:"60s" yaml:"step_timeout"`
	StreamingTimeout time.Duration `envconfig:"WORKFLOW_STREAMING_TIMEOUT" default:"30s" yaml:"streaming_timeout"`
	MaxTokens        int           `envconfig:"WORKFLOW_MAX_TOKENS" default:"100000" yaml:"max_tokens"`
	MaxMemoryMB      int           `envconfig:"WORKFLOW_MAX_MEMORY_MB" default:"512" yaml:"max_memory_mb"`
	MaxConcurrent    int           `envconfig:"WORKFLOW_MAX_CONCURRENT" default:"5" yaml:"max_concurrent"`
}

// DefaultLimits mirrors the envconfig defaults.
func DefaultLimits() WorkflowLimits {
	return WorkflowLimits{
		ExecutionTimeout: 300 * time.Second,
		StepTimeout:      60 * time.Second,
		StreamingTimeout: 30 * time.Second,
		MaxTokens:        100000,
		MaxMemoryMB:      512,
		MaxConcurrent:    5,
	}
}

// Validate requires every limit to be positive.
func (l WorkflowLimits) Validate() error {
	switch {
	case l.ExecutionTimeout <= 0:
		return fmt.Errorf("execution timeout must be positive, got %s", l.ExecutionTimeout)
	case l.StepTimeout <= 0:
		return fmt.Errorf("step timeout must be positive, got %s", l.StepTimeout)
	case l.StreamingTimeout <= 0:
		return fmt.Errorf("streaming timeout must be positive, got %s", l.StreamingTimeout)
	case l.MaxTokens <= 0:
		return fmt.Errorf("max tokens must be positive, got %d", l.MaxTokens)
	case l.MaxMemoryMB <= 0:
		return fmt.Errorf("max memory must be positive, got %d", l.MaxMemoryMB)
	case l.MaxConcurrent <= 0:
		return fmt.Errorf("max concurrent must be positive, got %d", l.MaxConcurrent)
	}
	return nil
}

// WorkflowResourceUsage is the live accounting of one admitted run.
type WorkflowResourceUsage struct {
	RunID          string    `json:"run_id"`
	UserID         string    `json:"user_id"`
	StartTime      time.Time `json:"start_time"`
	TokensUsed     int       `json:"tokens_used"`
	MemoryUsedMB   float64   `json:"memory_used_mb"`
	StepsCompleted int       `json:"steps_completed"`
	ErrorsCount    int       `json:"errors_count"`
}
