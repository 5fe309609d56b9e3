package app

import (
	"context"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core"
	"github.com/agenthands/geargraph/internal/core/audit"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/extraction"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/driver"
	"github.com/agenthands/geargraph/internal/llm"
	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
	"github.com/agenthands/geargraph/internal/orchestrator"
	"github.com/agenthands/geargraph/internal/review"
	"github.com/agenthands/geargraph/internal/server"
)

// App is the wired component graph shared by every command.
type App struct {
	Config       *config.Config
	Log          *logger.Logger
	Metrics      *metrics.Metrics
	Driver       *driver.MemgraphDriver // nil with the memory store
	Gateway      *persist.Gateway
	Reviews      *review.Service
	Curator      *core.Curator
	Orchestrator *orchestrator.Orchestrator
	Auditor      *audit.Auditor

	closers []func(ctx context.Context) error
}

// New connects to the configured stores and wires the pipeline. Extra sinks
// receive unit events next to the configured redis channel.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, sinks ...orchestrator.EventSink) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	store, err := a.graphStore(ctx)
	if err != nil {
		return nil, err
	}

	resolver := dedupe.NewResolver(cfg.Matching, cfg.Merge)
	a.Gateway = persist.NewGateway(store, resolver, cfg.Persistence, a.Metrics, log)

	reviewStore, err := review.NewBadgerStore(cfg.Review.Path)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open review store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return reviewStore.Close() })
	a.Reviews = review.NewService(reviewStore, a.Gateway, a.Metrics, log)

	client, err := llm.NewClient(ctx, cfg.LLM, log)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	if closer, ok := client.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	}

	var advisor dedupe.Advisor
	if client != nil && cfg.Review.Advisory {
		advisor = dedupe.NewLLMAdvisor(client, cfg.Prompts.Advise)
	}
	a.Curator = core.NewCurator(cfg, resolver, a.Gateway, a.Reviews, advisor, log)

	if cfg.Redis.Addr != "" {
		sink, err := orchestrator.NewRedisSink(ctx, cfg.Redis, log)
		if err != nil {
			// observers are best effort; the unit event log stays authoritative
			log.Warn("redis event sink disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			sinks = append(sinks, sink)
			a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
		}
	}
	dispatcher := orchestrator.NewDispatcher(cfg.Orchestrator.EventBuffer, a.Metrics, log, sinks...)

	var extractor orchestrator.Extractor
	if client != nil {
		extractor = extraction.NewExtractor(client, cfg.Extraction)
	}
	a.Orchestrator = orchestrator.New(cfg.Orchestrator, a.Curator, a.Gateway, extractor, dispatcher, a.Metrics, log)

	scanner := audit.NewScanner(a.Curator.Matcher(), a.Curator.Grouper())
	a.Auditor = audit.NewAuditor(scanner, a.Gateway, a.Reviews, log)

	return a, nil
}

func (a *App) graphStore(ctx context.Context) (persist.Store, error) {
	if a.Config.Persistence.Store == "memory" {
		a.Log.Warn("using in-memory graph store, nothing will be persisted")
		return persist.NewMemoryStore(), nil
	}
	d, err := driver.NewMemgraphDriver(ctx, a.Config.Memgraph, a.Log)
	if err != nil {
		return nil, fmt.Errorf("connect to memgraph: %w", err)
	}
	a.Driver = d
	a.closers = append(a.closers, d.Close)
	return persist.NewMemgraphStore(d), nil
}

func (a *App) Router() *gin.Engine {
	if a.Config.Server.Mode != "" {
		gin.SetMode(a.Config.Server.Mode)
	}
	srv := server.NewServer(a.Orchestrator, a.Reviews, a.Gateway, a.Auditor, a.Metrics, a.Log)
	return srv.SetupRouter()
}

// Close releases stores and clients in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	a.Log.Sync()
}
