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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolKeeper/internal/api"
	"poolKeeper/internal/chain"
	"poolKeeper/internal/config"
	"poolKeeper/internal/fee"
	"poolKeeper/internal/watcher"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Seed) == 0 {
		return fmt.Errorf("seed is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		chainClient *chain.Client
		deps        collaborators
		feeSource   fee.Source
	)
	if cfg.RPCURL != "" {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		deps.Broadcaster = chainClient
		deps.Utxos = chainClient
		feeSource = chainClient
	} else {
		logger.Warn("no rpc configured, running without watcher and broadcaster")
	}

	oracle := fee.NewOracle(feeSource, fee.Config{
		TTL:          cfg.FeeTTL,
		Fallback:     cfg.FeeFallback,
		TargetBlocks: cfg.FeeTargetBlocks,
	}, logger.Named("fee"))
	deps.Fees = oracle

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := buildService(ctx, cfg, store, deps, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(svc, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("poold start",
		zap.String("listen", cfg.Listen),
		zap.String("network", cfg.Network),
		zap.String("store", cfg.Store),
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("finality_depth", cfg.FinalityDepth),
		zap.Int("pools", len(svc.PoolList())),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		go oracle.Start()
		<-gctx.Done()
		oracle.Stop()
		return nil
	})
	if chainClient != nil {
		w := watcher.New(watcher.Config{
			StartHeight:       cfg.StartHeight,
			PollInterval:      cfg.PollInterval,
			BatchSize:         cfg.BatchSize,
			CheckpointPath:    cfg.Checkpoint,
			CheckpointEnabled: cfg.CheckpointEnabled,
			MaxRetries:        cfg.MaxRetries,
			RetryBackoff:      cfg.RetryBackoff,
		}, chainClient, svc, logger.Named("watcher"))
		group.Go(func() error {
			err := w.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return group.Wait()
}
