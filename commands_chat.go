package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/workflow"
)

type chatOptions struct {
	conversationID string
	userID         string
	kind           string
	systemPrompt   string
	strategies     string
	showUsage      bool
}

func buildChatCmd() *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the engine from the terminal",
		Long: `Stream replies to stdout. With a message argument one turn is run;
without one, lines are read from stdin until EOF.`,
		Example: `  chative chat "what time is it?" --workflow tools
  chative chat --conversation demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, opts, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Conversation ID (random when empty)")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "User ID")
	cmd.Flags().StringVarP(&opts.kind, "workflow", "w", string(model.KindPlain), "Workflow kind: plain, retrieval, tools or full")
	cmd.Flags().StringVar(&opts.systemPrompt, "system", "", "System prompt override")
	cmd.Flags().StringVar(&opts.strategies, "strategies", "", "YAML file overriding per-kind profiles")
	cmd.Flags().BoolVar(&opts.showUsage, "usage", false, "Print token usage after each reply")
	return cmd
}

func runChat(ctx context.Context, cfg AppConfig, opts chatOptions, message string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	a, err := buildApp(ctx, cfg, opts.strategies)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	conv := model.Conversation{ID: opts.conversationID, UserID: opts.userID}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	req := model.ChatRequest{Kind: model.ParseWorkflowKind(opts.kind), SystemPrompt: opts.systemPrompt}

	turn := func(text string) error {
		req.Message = text
		summary, err := chatTurn(ctx, a.engine, &conv, req, out, opts.showUsage)
		if err != nil {
			return err
		}
		if summary != "" {
			return a.summaries.SaveSummary(ctx, conv.ID, summary)
		}
		return nil
	}

	if strings.TrimSpace(message) != "" {
		return turn(message)
	}

	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			if err := turn(line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return sc.Err()
}

// chatTurn streams one reply to out and returns the summary to carry into the
// next turn.
func chatTurn(ctx context.Context, engine *workflow.Engine, conv *model.Conversation, req model.ChatRequest, out io.Writer, showUsage bool) (string, error) {
	chunks, err := engine.ExecuteStreaming(ctx, *conv, req, uuid.NewString(), conv.UserID, nil)
	if err != nil {
		return "", err
	}

	var (
		summary string
		failure error
	)
	for c := range chunks {
		switch c.Type {
		case model.ChunkToken:
			fmt.Fprint(out, c.Content)
		case model.ChunkComplete:
			fmt.Fprintln(out)
			if s, ok := c.Metadata[workflow.MetaSummary].(string); ok && s != "" {
				summary = s
				conv.Summary = s
			}
			if showUsage {
				if n, ok := c.Metadata["tokens_used"]; ok {
					fmt.Fprintf(out, "tokens: %v prompt: %v completion: %v cost: %v\n",
						n, c.Metadata["prompt_tokens"], c.Metadata["completion_tokens"], c.Metadata["cost"])
				}
			}
		case model.ChunkError:
			fmt.Fprintln(out)
			failure = fmt.Errorf("%s (%v)", c.Content, c.Metadata[workflow.MetaErrorType])
		}
	}
	return summary, failure
}
