// Package service composes the engine, the reconciler and their external
// collaborators into the entry points used by the HTTP API and the binary.
// Every mutating entry point persists a snapshot before returning.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolKeeper/internal/engine"
	"poolKeeper/internal/model"
	"poolKeeper/internal/reconcile"
	"poolKeeper/internal/storage"
	"poolKeeper/internal/txcodec"
)

// Broadcaster relays a fully signed transaction to the network.
type Broadcaster interface {
	Submit(ctx context.Context, rawTx string) (model.TxID, error)
}

// UtxoSource lists the confirmed outputs paying to an address.
type UtxoSource interface {
	ListConfirmedUtxos(ctx context.Context, address string) ([]model.Utxo, error)
}

// FeeOracle returns a fee rate in sat/vB. It never fails.
type FeeOracle interface {
	RecommendedFeeRate(ctx context.Context) float64
}

// KeyDeriver maps a derivation path to its custody address.
type KeyDeriver interface {
	PoolAddress(path []string) (string, error)
}

type Config struct {
	Codec       *txcodec.Codec
	Keys        KeyDeriver
	Broadcaster Broadcaster
	Utxos       UtxoSource
	Fees        FeeOracle
	Store       storage.StateStore
	Now         func() time.Time
}

type Service struct {
	cfg        Config
	logger     *zap.Logger
	engine     *engine.PoolEngine
	reconciler *reconcile.Reconciler

	persistMu sync.Mutex
}

func New(cfg Config, eng *engine.PoolEngine, rec *reconcile.Reconciler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = &storage.MemoryStore{}
	}
	if cfg.Fees == nil {
		cfg.Fees = fixedFee(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		engine:     eng,
		reconciler: rec,
	}
}

// Load restores the last persisted snapshot, if any.
func (s *Service) Load(ctx context.Context) (bool, error) {
	snap, ok, err := s.cfg.Store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.engine.Restore(snap.Engine); err != nil {
		return false, fmt.Errorf("restore engine: %w", err)
	}
	s.reconciler.Restore(snap.Reconciler)
	s.logger.Info("state restored", zap.Time("saved_at", snap.SavedAt))
	return true, nil
}

// Snapshot returns the current engine and reconciler state.
func (s *Service) Snapshot() model.Snapshot {
	return model.Snapshot{
		Engine:     s.engine.Snapshot(),
		Reconciler: s.reconciler.Snapshot(),
		SavedAt:    s.cfg.Now().UTC(),
	}
}

func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.cfg.Store.Save(ctx, s.Snapshot()); err != nil {
		s.logger.Error("persist state failed", zap.Error(err))
	}
}

type fixedFee float64

func (f fixedFee) RecommendedFeeRate(context.Context) float64 { return float64(f) }
