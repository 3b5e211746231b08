package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/landale/eventpipe/internal/batching"
	"github.com/landale/eventpipe/internal/bus"
	corecfg "github.com/landale/eventpipe/internal/core/config"
	"github.com/landale/eventpipe/internal/core/storage"
	"github.com/landale/eventpipe/internal/core/storage/postgres"
	"github.com/landale/eventpipe/internal/ingestion"
	"github.com/landale/eventpipe/internal/migrations"
	"github.com/landale/eventpipe/internal/outbound"
	"github.com/landale/eventpipe/internal/persistence"
	"github.com/landale/eventpipe/internal/router"
	"github.com/landale/eventpipe/internal/server"
	"github.com/landale/eventpipe/internal/transform"
	"github.com/landale/eventpipe/internal/validation"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long stopPipeline waits for the relay to drain.
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	// 0. Bootstrap logger until the configured one is known
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("Loaded config",
		"addr", cfg.Server.Addr(),
		"database_enabled", cfg.Database.Enabled,
		"outbound_enabled", cfg.Outbound.Enabled,
		"batch_window", cfg.Pipeline.BatchWindow)

	if err := run(cfg); err != nil {
		slog.Error("Pipeline stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func newLogger(cfg corecfg.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *corecfg.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Bus and event transformation
	eventBus := bus.New(bus.Config{BufferSize: cfg.Pipeline.BusBufferSize})
	defer eventBus.Close()

	criticalTypes := cfg.Pipeline.CriticalTypes
	if criticalTypes == nil {
		criticalTypes = router.DefaultCriticalTypes
	}
	transformer := transform.New(criticalTypes)
	validator := validation.New()

	// 3. Storage (optional)
	var (
		store     storage.EventStore
		persister router.Persister
		health    server.HealthChecker
		writer    *persistence.Writer
	)
	if cfg.Database.Enabled {
		adapter, err := postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer adapter.Close()

		if err := migrations.RunMigrations(adapter.DB(), cfg.Database.AutoMigrate); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}

		writer = persistence.NewWriter(ctx, persistence.Config{
			Workers:      cfg.Persistence.Workers,
			QueueSize:    cfg.Persistence.QueueSize,
			WriteTimeout: cfg.Persistence.WriteTimeout,
		}, adapter, transformer)
		defer writer.Close()

		store, persister, health = adapter, writer, adapter.DB()
	} else {
		slog.Info("Event storage disabled by config")
	}

	// 4. Batching engine and router
	engine := batching.New(batching.Config{
		Window:       cfg.Pipeline.BatchWindow,
		MaxBatchSize: cfg.Pipeline.MaxBatchSize,
		MaxBuffered:  cfg.Pipeline.MaxBuffered,
	}, eventBus)

	policy := router.NewPolicy(
		cfg.Pipeline.BatchableTypes,
		cfg.Pipeline.CriticalTypes,
		cfg.Pipeline.ImmediateTypes,
	)
	rt := router.New(router.Config{}, policy, eventBus, engine, persister)

	// 5. Outbound forwarding (optional)
	var forwarder *router.Forwarder
	if cfg.Outbound.Enabled {
		pubsubCfg := outbound.DefaultPubSubConfig()
		pubsubCfg.ProjectID = cfg.Outbound.ProjectID
		pubsubCfg.TopicName = cfg.Outbound.Topic

		sink, err := outbound.NewPubSubSink(ctx, pubsubCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize outbound sink: %w", err)
		}
		publisher := outbound.NewPublisher(transformer, sink)
		defer publisher.Close()

		forwarder = router.NewForwarder("pubsub", cfg.Outbound.QueueSize, publisher)
		forwardTypes := cfg.Outbound.ForwardTypes
		if len(forwardTypes) == 0 {
			forwardTypes = outbound.DefaultForwardTypes
		}
		for _, eventType := range forwardTypes {
			if err := rt.Register(eventType, forwarder); err != nil {
				return fmt.Errorf("failed to register outbound handler for %q: %w", eventType, err)
			}
		}
		slog.Info("Outbound forwarding enabled", "topic", cfg.Outbound.Topic, "event_types", forwardTypes)
	}

	// 6. Ingestion and HTTP server
	ingestionSvc := ingestion.NewService(transformer, validator, rt, store, cfg.Server.MaxBodySizeKB).
		WithStats(pipelineStats(rt, engine, writer))

	srv := server.New(cfg.Server.Addr(), health, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	// The engine, router and forwarder get their own contexts so shutdown can
	// stop them in dependency order once the server has stopped accepting.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	forwarderCtx, stopForwarder := context.WithCancel(context.Background())
	defer stopForwarder()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(engineCtx) })
	g.Go(func() error { return rt.Run(routerCtx) })
	if forwarder != nil {
		g.Go(func() error { return forwarder.Run(forwarderCtx) })
	}
	g.Go(func() error { return srv.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Signal received, shutting down...")

		err := stopPipeline(eventBus, engine, stopEngine, rt, stopRouter)
		stopForwarder()
		return err
	})

	return g.Wait()
}

// stopPipeline stops the engine, waits until the router has picked up every
// batch of the final flush, then stops the router.
func stopPipeline(eventBus *bus.LocalBus, engine *batching.Engine, stopEngine context.CancelFunc,
	rt *router.Router, stopRouter context.CancelFunc) error {
	defer stopRouter()

	stopEngine()
	<-engine.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	drainErr := eventBus.Drain(ctx, bus.TopicBatchRelay)
	if drainErr != nil {
		drainErr = fmt.Errorf("batch relay did not drain: %w", drainErr)
	}

	stopRouter()
	<-rt.Done()
	return drainErr
}

func pipelineStats(rt *router.Router, engine *batching.Engine, writer *persistence.Writer) ingestion.StatsFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		routerStats, err := rt.Stats(ctx)
		if err != nil {
			return nil, err
		}
		batchingStats, err := engine.Stats(ctx)
		if err != nil {
			return nil, err
		}

		stats := map[string]interface{}{
			"router":   routerStats,
			"batching": batchingStats,
		}
		if writer != nil {
			stats["persistence"] = writer.Stats()
		}
		return stats, nil
	}
}
