package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/chative-core/workflow/internal/agent/events"
	"github.com/chative-core/workflow/internal/agent/graph/conversations"
	"github.com/chative-core/workflow/internal/agent/graph/nodes"
	"github.com/chative-core/workflow/internal/agent/graph/observers"
	"github.com/chative-core/workflow/internal/agent/graph/tools"
	"github.com/chative-core/workflow/internal/agent/memory"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/providers"
	"github.com/chative-core/workflow/internal/agent/repo"
	"github.com/chative-core/workflow/internal/agent/resources"
	"github.com/chative-core/workflow/internal/agent/retrieval"
	"github.com/chative-core/workflow/internal/agent/strategy"
	"github.com/chative-core/workflow/internal/agent/workflow"
	logx "github.com/chative-core/workflow/pkg/logger"
	"github.com/chative-core/workflow/pkg/tracing"
)

// app is the wired engine together with the resources that outlive it.
type app struct {
	cfg       AppConfig
	engine    *workflow.Engine
	registry  *strategy.Registry
	summaries repo.SummaryStore
	metrics   *prometheus.Registry
	bus       *gochannel.GoChannel

	closers []func(context.Context) error
}

func newRegistry(cfg AppConfig, override string) (*strategy.Registry, error) {
	path := override
	if path == "" {
		path = cfg.Strategies
	}
	var opts []strategy.Option
	if path != "" {
		opts = append(opts, strategy.WithOverridesFile(path))
	}
	registry, err := strategy.NewRegistry(cfg.WorkflowLimits, opts...)
	if err != nil {
		return nil, fmt.Errorf("build strategy registry: %w", err)
	}
	return registry, nil
}

func buildApp(ctx context.Context, cfg AppConfig, strategies string) (*app, error) {
	logx.Init(logx.LoggerOpts{Environment: cfg.Env})

	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	tp, shutdown, err := tracing.Setup(ctx, cfg.Config, cfg.Env.String())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	// ====================== Storage ======================
	var messages model.MessageService
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialise redis client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		messages = repo.NewRedisMessageService(rdb, cfg.Redis.TTL())
		a.summaries = repo.NewRedisSummaryStore(rdb, cfg.Redis.TTL())
		log.Info().Msg("Connected to Redis")
	} else {
		messages = repo.NewMemoryMessageService()
		a.summaries = repo.NewMemorySummaryStore()
		log.Warn().Msg("REDIS_URL not set; conversations are kept in memory")
	}

	// ====================== Models ======================
	chat, err := providers.NewChatModel(ctx, cfg.ModelConfig)
	if err != nil {
		return nil, err
	}
	summarizer, err := providers.NewSummaryModel(ctx, cfg.ModelConfig, cfg.SummaryConfig)
	if err != nil {
		return nil, err
	}
	embedder, err := providers.NewEmbedder(cfg.ModelConfig, cfg.RetrievalConfig)
	if err != nil {
		return nil, err
	}

	var retriever model.Retriever
	if cfg.DocumentsPath != "" {
		store := retrieval.NewStore(retrieval.WithEmbedder(embedder))
		if err := store.LoadFile(ctx, cfg.DocumentsPath); err != nil {
			return nil, err
		}
		log.Info().Int("documents", store.Len()).Str("path", cfg.DocumentsPath).Msg("Loaded retrieval documents")
		retriever = store
	}

	toolset, err := tools.Builtin(ctx, retriever, time.Now)
	if err != nil {
		return nil, err
	}

	factory, err := nodes.NewFactory(nodes.Deps{
		Chat:      chat,
		Memory:    memory.NewManager(summarizer),
		Retriever: retriever,
		Embedder:  embedder,
		Tools:     toolset,
		Prompt:    cfg.PromptConfig,
		Exec:      cfg.ToolsConfig,
	})
	if err != nil {
		return nil, err
	}

	// ====================== Engine ======================
	if a.registry, err = newRegistry(cfg, strategies); err != nil {
		return nil, err
	}

	a.bus = events.NewGoChannel(events.NewLogger(log.Logger))
	a.closers = append(a.closers, func(context.Context) error { return a.bus.Close() })

	a.engine, err = workflow.NewEngine(
		a.registry,
		factory,
		conversations.NewMessagesManager(messages, cfg.MemoryConfig),
		resources.NewManager(resources.WithMetrics(resources.NewMetrics(a.metrics))),
		workflow.WithObservers(
			observers.NewLogObserver(),
			observers.NewTracingObserver(tp),
			observers.NewMetricsObserver(a.metrics),
		),
		workflow.WithPricing(model.ResolvePricing(cfg.ModelConfig.Model, cfg.Pricing)),
		workflow.WithSinks(events.NewChunkPublisher(a.bus, events.DefaultTopic)),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// auditChunks logs every terminal chunk published on the bus until ctx is done.
func (a *app) auditChunks(ctx context.Context) error {
	chunks, err := events.Subscribe(ctx, a.bus, events.DefaultTopic)
	if err != nil {
		return err
	}
	go func() {
		for c := range chunks {
			if !c.Terminal() {
				continue
			}
			ev := log.Info()
			if c.Type == model.ChunkError {
				ev = log.Warn()
			}
			ev.Str("correlation_id", c.CorrelationID).
				Str("conversation_id", c.ConversationID).
				Str("message_id", c.MessageID).
				Str("type", string(c.Type)).
				Interface("error_type", c.Metadata[workflow.MetaErrorType]).
				Msg("Stream finished")
		}
	}()
	return nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
