package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"leadflow/internal/agent"
	"leadflow/internal/api"
	"leadflow/internal/broker"
	"leadflow/internal/config"
	"leadflow/internal/jobs"
	"leadflow/internal/leaddiscovery"
	"leadflow/internal/models"
	"leadflow/internal/ratelimit"
	"leadflow/internal/reaper"
	"leadflow/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job consumer in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	logger := log.Logger

	// NotifyContext makes the second signal kill the process outright
	// instead of re-running cleanup.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	b := broker.NewRedis(broker.RedisOptions{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		BackoffBase:  cfg.ConnectBackoffBase,
		BackoffMax:   cfg.ConnectBackoffMax,
		MaxAttempts:  cfg.ConnectAttempts,
		DrainTimeout: cfg.ShutdownTimeout,
	}, logger)
	if err := b.Connect(ctx); err != nil {
		return err
	}

	snapshots := jobs.NewSnapshotStore(b.Client(), cfg.SnapshotTTL)
	producer := jobs.NewProducer(b, snapshots, cfg.JobsChannel, logger)
	if err := producer.Initialize(ctx); err != nil {
		return err
	}

	discovery := leaddiscovery.New(
		st,
		agent.NewClient(cfg.AgentAPIBaseURL, cfg.AgentAPIAuthToken, cfg.AgentAPITimeout),
		logger,
	)

	consumer := jobs.NewConsumer(b, snapshots, cfg.JobsChannel, cfg.WorkerConcurrency, logger)
	consumer.Define(leaddiscovery.JobName, models.JobOptions{Priority: models.PriorityNormal}, discovery.JobHandler())
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	rp := reaper.New(st, cfg.ReapStuckAfter, cfg.ReaperSchedule, logger)
	rp.Sweep(ctx) // reconcile anything stranded by a previous crash
	if err := rp.Start(); err != nil {
		return err
	}

	limiter := ratelimit.NewRunLimiter(b.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(st, producer, limiter, b, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	_ = consumer.Stop(shutdownCtx, cfg.ShutdownTimeout)
	rp.Stop()
	_ = b.Close(shutdownCtx)
	return nil
}
