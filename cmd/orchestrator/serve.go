package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	_ "video-job-orchestrator/docs"
	"video-job-orchestrator/internal/cancellation"
	"video-job-orchestrator/internal/config"
	"video-job-orchestrator/internal/events"
	"video-job-orchestrator/internal/pipeline"
	"video-job-orchestrator/internal/progress"
	"video-job-orchestrator/internal/repository/memory"
	"video-job-orchestrator/internal/repository/postgresql"
	redisrepo "video-job-orchestrator/internal/repository/redis"
	"video-job-orchestrator/internal/service"
	httptransport "video-job-orchestrator/internal/transport/http"
	"video-job-orchestrator/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(viper.New(), file)
			if err != nil {
				return err
			}
			if err := configureLogging(cfg.Log); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store := memory.NewJobStore(cfg.Store.MaxJobs)
	agg := progress.NewAggregator(cfg.Store.RetainFor)
	cancels := cancellation.NewOrchestrator(cfg.Store.RetainFor)
	queue := worker.NewMemoryQueue()
	stages := pipeline.DefaultStages(cfg.Pipeline.OutputDir, cfg.Pipeline.StepDelay)

	opts := service.Options{
		Retry: service.RetryPolicy{
			StageRetries:    cfg.Runner.StageRetries,
			StageRetryDelay: cfg.Runner.StageRetryDelay,
			MaxJobRetries:   cfg.Runner.MaxJobRetries,
			BackoffBase:     cfg.Runner.RetryBackoffBase,
			BackoffMax:      cfg.Runner.RetryBackoffMax,
		},
		CancelTimeout: cfg.Runner.CancelTimeout,
		AbandonGrace:  cfg.Runner.AbandonGrace,
	}

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return pkgerrors.Wrap(err, "redis")
		}
		ledger := redisrepo.NewRetryLedger(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LedgerTTL)
		opts.Ledger = ledger
		store.OnEvict(func(id string) {
			if err := ledger.Forget(context.Background(), id); err != nil {
				log.WithField("job_id", id).WithError(err).Warn("forget retry ledger entry")
			}
		})
		log.WithField("redis_addr", cfg.Redis.Addr).Info("retry ledger enabled")
	}

	var persister *service.Persister
	if cfg.Postgres.DSN != "" {
		pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return pkgerrors.Wrap(err, "postgres")
		}
		defer pool.Close()

		repo := postgresql.NewJobRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		n, err := service.RestoreJobs(ctx, repo, store, cfg.Postgres.RestoreLimit, time.Now().UTC())
		if err != nil {
			log.WithError(err).Warn("some job snapshots could not be restored")
		}
		log.WithFields(log.Fields{"restored": n, "postgres_dsn": redactDSN(cfg.Postgres.DSN)}).Info("job snapshots enabled")

		persister = service.NewPersister(repo, cfg.Postgres.FlushInterval)
		store.Observe(persister.Observe)
		store.OnEvict(persister.Forget)
	}

	broker := events.NewBroker(64)
	store.Observe(broker.Publish)

	runner := service.NewJobRunner(store, queue, agg, cancels, stages, opts)
	store.OnEvict(runner.Forget)

	publisher := events.NewPublisher(runner, broker, events.Options{
		Heartbeat:        cfg.Stream.HeartbeatInterval,
		PollInterval:     cfg.Stream.PollInterval,
		TerminalLogLines: cfg.Stream.TerminalLogLines,
		SnapshotLogLines: cfg.Stream.SnapshotLogLines,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(httptransport.NewHandler(runner, publisher)),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with the signal so open event streams return
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	sweeper := cron.New()
	if cfg.Store.SweepSchedule != "" && cfg.Store.RetainFor > 0 {
		_, err := sweeper.AddFunc(cfg.Store.SweepSchedule, func() {
			if n := store.EvictOlderThan(time.Now().UTC().Add(-cfg.Store.RetainFor)); n > 0 {
				log.WithField("evicted", n).Info("swept finished jobs")
			}
		})
		if err != nil {
			return pkgerrors.Wrap(err, "store.sweep_schedule")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		worker.NewPool(queue, runner, cfg.Runner.Workers).Run(gctx)
		return nil
	})

	// the persister outlives the pool so the final Interrupted/Canceled
	// snapshots written during shutdown still reach postgres
	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPersist()
	persistDone := make(chan struct{})
	if persister != nil {
		go func() {
			defer close(persistDone)
			_ = persister.Run(persistCtx)
		}()
	} else {
		close(persistDone)
	}

	sweeper.Start()

	g.Go(func() error {
		<-gctx.Done()
		<-sweeper.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown timed out")
			_ = srv.Close()
		}
		return nil
	})

	err := g.Wait()
	runner.Wait()
	stopPersist()
	<-persistDone
	log.Info("orchestrator stopped")
	return err
}
