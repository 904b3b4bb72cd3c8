package app

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/extensions/metrics"
	"github.com/questchain/node/extensions/players"
	"github.com/questchain/node/extensions/sessions"
	"github.com/questchain/node/extensions/settlement"
	"github.com/questchain/node/extensions/settlement/scheduler"
	"github.com/questchain/node/extensions/transactions"
	"github.com/questchain/node/internal/api"
	"github.com/questchain/node/internal/config"
	"github.com/questchain/node/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the confirmation poller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "QUEST_LOG_LEVEL %q", level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.Open(ctx, cfg.DatabasePath, storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	signer, err := attestation.NewSigner(cfg.Signing, logger)
	if err != nil {
		return errors.Wrap(err, "load signing keypair")
	}
	if signer.IsAvailable() {
		logger.Info("ed25519 signing available", zap.String("public_key", signer.PublicKeyHex()))
	}

	policy, err := transactions.PolicyFromConfig(cfg.Retry)
	if err != nil {
		return err
	}
	recorder := metrics.NewMetricsRecorder(logger)

	registry := players.NewRegistry(store, logger)
	sessionSvc := sessions.NewService(sessions.Params{
		Store:   store,
		Signer:  signer,
		Metrics: recorder,
		Logger:  logger,
	})
	tracker := transactions.NewTracker(transactions.Params{
		Store:      store,
		Policy:     policy,
		MaxRetries: cfg.Retry.MaxRetries,
		Metrics:    recorder,
		Logger:     logger,
	})

	apiParams := api.Params{
		Players:      registry,
		Sessions:     sessionSvc,
		Transactions: tracker,
		Signer:       signer,
		AccessToken:  cfg.AccessToken,
		Logger:       logger,
	}
	if cfg.AccessToken == "" {
		logger.Warn("ACCESS_TOKEN is empty; every /api route except health answers 404")
	}

	var pollScheduler *scheduler.PollScheduler
	if cfg.Indexer.Enabled() {
		chain, err := settlement.NewBlockfrostClient(cfg.Indexer, nil, logger)
		if err != nil {
			return err
		}
		poller := settlement.NewPoller(settlement.PollerParams{
			Tracker:           tracker,
			Sessions:          sessionSvc,
			Chain:             chain,
			SubmissionTimeout: cfg.Indexer.SubmissionTimeout,
			BatchSize:         scheduler.MaxTransactionsPerRun,
			Metrics:           recorder,
			Logger:            logger,
		})
		pollScheduler = scheduler.NewPollScheduler(scheduler.NewPollSchedulerParams{Poller: poller, Logger: logger})
		apiParams.Poller = pollScheduler
	} else {
		logger.Warn("QUEST_INDEXER_URL not set; transactions are confirmed through the API only")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.NewServer(apiParams).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("game API listening", zap.String("addr", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	if pollScheduler != nil {
		g.Go(func() error {
			return pollScheduler.Start(gctx, cfg.Indexer.PollSchedule)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if pollScheduler != nil {
			_ = pollScheduler.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
