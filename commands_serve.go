package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chative-core/workflow/internal/transport/api"
	"github.com/chative-core/workflow/internal/transport/sse"
)

const shutdownTimeout = 15 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		addr       string
		strategies string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP chat service",
		Long: `Start the HTTP chat service.

Endpoints:
  POST /v1/chat         run one turn and return the reply as JSON
  POST /v1/chat/stream  run one turn and stream chunks as server-sent events
  GET  /healthz         liveness
  GET  /metrics         Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, strategies)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&strategies, "strategies", "", "YAML file overriding per-kind profiles")
	return cmd
}

func runServe(ctx context.Context, cfg AppConfig, strategies string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, strategies)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	if err := a.auditChunks(ctx); err != nil {
		return err
	}

	relay := sse.NewRelay()
	defer relay.Close()

	mux := http.NewServeMux()
	api.NewHandler(a.engine, a.summaries, relay, a.registry.Limits()).Routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("env", cfg.Env.String()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
