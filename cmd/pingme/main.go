package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"pingme/internal/api"
	"pingme/internal/chain"
	"pingme/internal/config"
	"pingme/internal/replay"
	"pingme/internal/storage/postgres"
	"pingme/internal/stream"
)

func main() {
	root := &cobra.Command{
		Use:          "pingme",
		Short:        "Smart contract event notifier",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch contracts and notify users",
		RunE:  runWatcher,
	}

	runCmd.Flags().String("rpc", "", "websocket RPC URL")
	runCmd.Flags().String("watchlist", "./contracts.yaml", "contracts watchlist YAML")
	runCmd.Flags().String("users", "", "users YAML seeding the in-memory stores")
	runCmd.Flags().Int("max-retries", 5, "reconnect attempts before giving up")
	runCmd.Flags().Duration("retry-delay", 5*time.Second, "delay between reconnect attempts")
	runCmd.Flags().Duration("health-interval", 30*time.Second, "connection probe interval")
	runCmd.Flags().Uint64("replay-blocks", 100, "blocks replayed after each (re)connect, 0 disables")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN, empty uses in-memory stores")
	runCmd.Flags().String("redis-addr", "", "Redis address for push subscriptions, empty keeps them in memory")
	runCmd.Flags().String("nats-url", "", "NATS URL for event publication, empty disables")
	runCmd.Flags().String("ai-api-key", "", "Gemini API key, empty disables enrichment")
	runCmd.Flags().Bool("dev-senders", false, "log notifications instead of sending them")
	runCmd.Flags().Bool("enforce-rate-limit", false, "enforce each user's max notifications per hour")
	runCmd.Flags().Duration("batch-window", time.Minute, "batch window for batch-mode users")
	runCmd.Flags().String("metrics-addr", ":9090", "status and metrics listen address, empty disables")
	runCmd.Flags().String("audit-out", "", "optional JSONL delivery audit path")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a historical block range through the pipeline",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("rpc", "", "RPC URL")
	replayCmd.Flags().String("watchlist", "./contracts.yaml", "contracts watchlist YAML")
	replayCmd.Flags().String("users", "", "users YAML seeding the in-memory stores")
	replayCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	replayCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	replayCmd.Flags().Uint64("batch-size", 2000, "blocks per chunk")
	replayCmd.Flags().String("checkpoint", "./data/replay_checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	replayCmd.Flags().Duration("retry-delay", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN, empty uses in-memory stores")
	replayCmd.Flags().String("ai-api-key", "", "Gemini API key, empty disables enrichment")
	replayCmd.Flags().Bool("dev-senders", false, "log notifications instead of sending them")
	replayCmd.Flags().String("audit-out", "", "optional JSONL delivery audit path")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	times := &liveClient{}
	a, err := buildApp(ctx, cfg, logger, reg, times, true)
	if err != nil {
		return err
	}
	defer a.close()

	dialer := stream.DialFunc(func(ctx context.Context) (stream.Session, error) {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		times.set(client)
		return client, nil
	})

	conn := stream.NewConnection(stream.Config{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		HealthInterval: cfg.HealthInterval,
		ReplayBlocks:   cfg.ReplayBlocks,
	}, dialer, a.watches, a.pipeline.HandleLog, logger.Named("stream"), a.metrics)

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer conn.Stop()

	logger.Info("watching contracts",
		zap.Int("contracts", len(a.watches)),
		zap.Strings("subscribed", conn.Status().SubscribedContracts),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-conn.Errors():
			return fmt.Errorf("stream: %w", err)
		}
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           api.NewRouter(conn, a.registry, reg, logger.Named("api")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("control server listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	a, err := buildApp(ctx, cfg, logger, prometheus.NewRegistry(), client, false)
	if err != nil {
		return err
	}
	defer a.close()

	runner := replay.NewRunner(replay.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryDelay,
	}, client, a.watches, a.pipeline, logger.Named("replay"))

	return runner.Run(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PostgresDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
