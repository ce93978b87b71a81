package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/core"
	pkgredis "github.com/chative-core/workflow/pkg/redis"
	"github.com/chative-core/workflow/pkg/tracing"
)

// AppConfig holds every configurable parameter, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Env  core.Environment `envconfig:"APP_ENV" default:"development"`
	Addr string           `envconfig:"HTTP_ADDR" default:":8080"`

	// Strategies is an optional YAML file overriding per-kind profiles.
	Strategies string `envconfig:"WORKFLOW_STRATEGIES_FILE"`

	// Infrastructure
	Redis pkgredis.Config

	// Agent configs
	model.ModelConfig
	model.SummaryConfig
	model.MemoryConfig
	model.ToolsConfig
	model.RetrievalConfig
	model.PromptConfig
	model.WorkflowLimits
	model.Pricing

	tracing.Config
}

func loadConfig(path string) (AppConfig, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return AppConfig{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process environment config: %w", err)
	}
	if err := cfg.WorkflowLimits.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("workflow limits: %w", err)
	}
	return cfg, nil
}
