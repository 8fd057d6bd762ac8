// Package daemon implements the long-running crawl daemon command. It wires
// the full pipeline: dispatcher, worker pool, cron trigger, discovery,
// extraction, deduplication, and event publishing.
package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/north-cloud/category-crawler/internal/breaker"
	"github.com/north-cloud/category-crawler/internal/config"
	"github.com/north-cloud/category-crawler/internal/crawl"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/dedup"
	"github.com/north-cloud/category-crawler/internal/discovery"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/events"
	"github.com/north-cloud/category-crawler/internal/extract"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/metrics"
	"github.com/north-cloud/category-crawler/internal/ratelimit"
	"github.com/north-cloud/category-crawler/internal/scheduler"
	"github.com/north-cloud/category-crawler/internal/worker"
)

// shutdownTimeout bounds the graceful drain on exit.
const shutdownTimeout = 35 * time.Second

// Command returns the daemon command.
func Command(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the crawl daemon",
		Long: `Run the crawl daemon. The daemon claims pending jobs, executes them on
a bounded worker pool, and enqueues scheduled jobs for categories with a
cron schedule. It runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfgFile)
		},
	}
}

func run(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting crawl daemon",
		logger.String("environment", cfg.App.Environment),
		logger.Int("pool_size", cfg.Worker.PoolSize),
	)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := ratelimit.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	jobStore := database.NewJobRepository(db)
	categoryStore := database.NewCategoryRepository(db)
	articleStore := database.NewArticleRepository(db)

	// Nothing is dispatched yet, so every running row is a claim stranded by
	// a previous process. Reset them or their categories stay blocked.
	if recovered, recoverErr := jobStore.ReleaseAbandoned(ctx, 0); recoverErr != nil {
		return fmt.Errorf("recover stranded jobs: %w", recoverErr)
	} else if recovered > 0 {
		log.Warn("recovered stranded running jobs", logger.Int("count", recovered))
	}

	collector := metrics.NewCollector(cfg.Metrics.WindowSize)
	breakers := breakerRegistry(cfg, log)

	domainLimiter := ratelimit.NewDomainLimiter(ratelimit.NewRedisCounter(redisClient), cfg.RateLimit, log)
	pacer := ratelimit.NewPacer(cfg.RateLimit)

	searcher := discovery.NewClient(cfg.Discovery, pacer, log)
	direct := extract.NewDirectExtractor(cfg.Extract, domainLimiter, log)
	extractor := extract.NewBatchExtractor(cfg.Extract, nil, direct, pacer, domainLimiter, log)
	reconciler := dedup.NewReconciler(articleStore, log)

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher = events.NewPublisher(redisClient, log)
	}

	runner := crawl.NewRunner(
		cfg.Crawl,
		jobStore,
		categoryStore,
		searcher,
		extractor,
		reconciler,
		breakers,
		collector,
		publisher,
		log,
	)

	handler := func(ctx context.Context, job *domain.Job) error {
		return runner.Run(ctx, job)
	}

	dispatcher, err := scheduler.NewDispatcher(jobStore, handler, cfg.Worker, cfg.Scheduler.PollInterval, log)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	service := scheduler.NewService(jobStore, categoryStore, dispatcher, log)
	trigger := scheduler.NewCronTrigger(service, categoryStore, log)
	monitor := worker.NewHealthMonitor(dispatcher.Pool(), cfg.Worker.HealthCheckInterval, log)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(runCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := trigger.Start(runCtx); err != nil {
		return fmt.Errorf("start cron trigger: %w", err)
	}
	monitor.Start(runCtx)

	log.Info("crawl daemon running")
	<-runCtx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	trigger.Stop()
	monitor.Stop()
	if stopErr := dispatcher.Stop(shutdownCtx); stopErr != nil {
		log.Error("dispatcher stop failed", logger.Error(stopErr))
		return fmt.Errorf("stop dispatcher: %w", stopErr)
	}

	log.Info("crawl daemon stopped")
	return nil
}

// breakerRegistry builds the per-target breaker registry with transitions
// surfaced in the log.
func breakerRegistry(cfg *config.Config, log logger.Logger) *breaker.Registry {
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(target string, from, to breaker.State) {
		log.Warn("circuit breaker state change",
			logger.String("target", target),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	return breaker.NewRegistry(breakerCfg)
}
