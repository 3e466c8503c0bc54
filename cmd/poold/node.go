package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"poolKeeper/internal/config"
	"poolKeeper/internal/engine"
	"poolKeeper/internal/reconcile"
	"poolKeeper/internal/service"
	"poolKeeper/internal/signer"
	"poolKeeper/internal/storage"
	boltstore "poolKeeper/internal/storage/bolt"
	"poolKeeper/internal/storage/postgres"
	"poolKeeper/internal/txcodec"
)

// collaborators are the external dependencies a node is built with.
type collaborators struct {
	Broadcaster service.Broadcaster
	Utxos       service.UtxoSource
	Fees        service.FeeOracle
}

func openStore(ctx context.Context, cfg config.Config) (storage.StateStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return &storage.MemoryStore{}, nil
	case config.StoreFile:
		return &storage.FileStateStore{Path: cfg.StatePath}, nil
	case config.StoreBolt:
		store, err := boltstore.Open(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return &postgres.StateStore{Store: pg}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// buildService wires engine, reconciler and service over the configured
// store and restores the persisted state. The signer is nil when no seed
// is configured.
func buildService(ctx context.Context, cfg config.Config, store storage.StateStore, deps collaborators, logger *zap.Logger) (*service.Service, error) {
	params, err := txcodec.Params(cfg.Network)
	if err != nil {
		return nil, err
	}

	var events storage.EventSink
	if cfg.Journal != "" {
		events = storage.NewJournal(cfg.Journal)
	}

	engineCfg := engine.Config{FinalityDepth: cfg.FinalityDepth}
	svcCfg := service.Config{
		Codec:       txcodec.New(params),
		Broadcaster: deps.Broadcaster,
		Utxos:       deps.Utxos,
		Fees:        deps.Fees,
		Store:       store,
	}
	if len(cfg.Seed) > 0 {
		local, err := signer.NewLocal(cfg.Seed, params, logger.Named("signer"))
		if err != nil {
			return nil, err
		}
		engineCfg.Signer = local
		svcCfg.Keys = local
	}
	if events != nil {
		engineCfg.Events = events
	}

	eng := engine.New(engineCfg, logger.Named("engine"))
	recCfg := reconcile.Config{
		RateNum:        cfg.LiabilityRateNum,
		RateDen:        cfg.LiabilityRateDen,
		MinDeposit:     cfg.MinDeposit,
		MaxDeposit:     cfg.MaxDeposit,
		ProtocolFeeBps: cfg.ProtocolFeeBps,
	}
	if events != nil {
		recCfg.Events = events
	}
	rec := reconcile.New(recCfg, eng, logger.Named("reconcile"))

	svc := service.New(svcCfg, eng, rec, logger.Named("service"))
	if _, err := svc.Load(ctx); err != nil {
		return nil, err
	}

	for _, pool := range cfg.Pools {
		if svcCfg.Keys == nil {
			return nil, fmt.Errorf("seed is required to register pool %s", pool.Name)
		}
		info, err := svc.EnsurePool(ctx, pool.Name, pool.DerivationPath)
		if err != nil {
			return nil, fmt.Errorf("register pool %s: %w", pool.Name, err)
		}
		logger.Info("pool ready", zap.String("name", pool.Name), zap.String("address", info.Address), zap.Uint64("sequence", info.Sequence))
	}
	return svc, nil
}
