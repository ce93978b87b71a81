// Command chative runs the conversation workflow engine, either as an HTTP
// service or as a one-shot CLI chat.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chative-core/workflow/internal/agent/model"
	logx "github.com/chative-core/workflow/pkg/logger"
)

var (
	version = "dev"
	envFile string
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		logx.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chative",
		Short:        "Conversation workflow engine",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildLimitsCmd(),
	)
	return rootCmd
}

// buildLimitsCmd prints the limits each workflow kind resolves to.
func buildLimitsCmd() *cobra.Command {
	var strategies string
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Print the resolved workflow limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			registry, err := newRegistry(cfg, strategies)
			if err != nil {
				return err
			}
			for _, kind := range registry.Kinds() {
				_, lim, err := registry.Build(kind, model.ChatRequest{Kind: kind})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s execution=%s step=%s streaming=%s max_tokens=%d max_memory_mb=%d max_concurrent=%d\n",
					kind, lim.ExecutionTimeout, lim.StepTimeout, lim.StreamingTimeout, lim.MaxTokens, lim.MaxMemoryMB, lim.MaxConcurrent)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategies, "strategies", "", "YAML file overriding per-kind profiles")
	return cmd
}
