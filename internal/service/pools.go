package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"poolKeeper/internal/engine"
	"poolKeeper/internal/model"
)

const (
	// DustLimit is the smallest custody output value relayed by default.
	DustLimit = 546
	// spendVSize approximates the size of a pool spend in vbytes.
	spendVSize = 200
)

// InitPool derives the custody address for path and registers the pool.
func (s *Service) InitPool(ctx context.Context, name string, path []string) (model.PoolInfo, error) {
	if name == "" || len(path) == 0 {
		return model.PoolInfo{}, fmt.Errorf("%w: pool name and derivation path required", ErrInvalidRequest)
	}
	if s.cfg.Keys == nil {
		return model.PoolInfo{}, fmt.Errorf("%w: no key deriver configured", ErrInvalidRequest)
	}
	address, err := s.cfg.Keys.PoolAddress(path)
	if err != nil {
		return model.PoolInfo{}, fmt.Errorf("derive pool address: %w", err)
	}
	if err := s.engine.RegisterPool(address, name, path); err != nil {
		return model.PoolInfo{}, err
	}
	s.persist(ctx)
	return s.engine.PoolInfo(address)
}

// EnsurePool registers the pool for path unless it already exists.
func (s *Service) EnsurePool(ctx context.Context, name string, path []string) (model.PoolInfo, error) {
	info, err := s.InitPool(ctx, name, path)
	if errors.Is(err, engine.ErrPoolExists) {
		address, derr := s.cfg.Keys.PoolAddress(path)
		if derr != nil {
			return model.PoolInfo{}, derr
		}
		return s.engine.PoolInfo(address)
	}
	return info, err
}

func (s *Service) PoolList() []model.PoolBasic {
	return s.engine.PoolList()
}

func (s *Service) PoolInfo(address string) (model.PoolInfo, error) {
	return s.engine.PoolInfo(address)
}

func (s *Service) Stats(address string) (model.PoolStats, error) {
	return s.engine.Stats(address)
}

func (s *Service) States(address string) ([]model.PoolState, error) {
	return s.engine.States(address)
}

// MinimalTxValue is the smallest custody change worth creating given the
// number of unconfirmed spends queued ahead of it.
func (s *Service) MinimalTxValue(ctx context.Context, pool string, queueLength int) (uint64, error) {
	if _, err := s.engine.PoolInfo(pool); err != nil {
		return 0, err
	}
	if queueLength < 0 {
		return 0, fmt.Errorf("%w: negative queue length", ErrInvalidRequest)
	}
	rate := s.cfg.Fees.RecommendedFeeRate(ctx)
	value := uint64(math.Ceil(rate * spendVSize * float64(queueLength+1)))
	if value < DustLimit {
		return DustLimit, nil
	}
	return value, nil
}

// AuditReport compares the ledger head of a pool with the confirmed UTXOs
// the node reports for its address.
type AuditReport struct {
	Pool          string       `json:"pool_address"`
	HeadSequence  uint64       `json:"head_sequence"`
	Head          *model.Utxo  `json:"head_custody,omitempty"`
	HeadConfirmed bool         `json:"head_confirmed"`
	InFlight      int          `json:"in_flight"`
	OnChain       []model.Utxo `json:"on_chain"`
	OnChainTotal  uint64       `json:"on_chain_total"`
	Untracked     []model.Utxo `json:"untracked"`
	Drift         int64        `json:"drift_sats"`
}

func (s *Service) AuditPool(ctx context.Context, pool string) (AuditReport, error) {
	if s.cfg.Utxos == nil {
		return AuditReport{}, ErrNoUtxoSource
	}
	head, err := s.engine.Head(pool)
	if err != nil {
		return AuditReport{}, err
	}
	stats, err := s.engine.Stats(pool)
	if err != nil {
		return AuditReport{}, err
	}
	utxos, err := s.cfg.Utxos.ListConfirmedUtxos(ctx, pool)
	if err != nil {
		return AuditReport{}, fmt.Errorf("list utxos of %s: %w", pool, err)
	}

	report := AuditReport{
		Pool:         pool,
		HeadSequence: head.Sequence,
		Head:         head.Custody,
		InFlight:     stats.InFlight,
		OnChain:      utxos,
		Untracked:    make([]model.Utxo, 0),
	}
	for _, u := range utxos {
		report.OnChainTotal += u.Value
		if head.Custody != nil && u.Outpoint == head.Custody.Outpoint {
			report.HeadConfirmed = true
			continue
		}
		report.Untracked = append(report.Untracked, u)
	}
	report.Drift = int64(report.OnChainTotal) - int64(head.CustodyValue())

	if !report.HeadConfirmed && head.Custody != nil && report.InFlight == 0 {
		s.logger.Warn("custody utxo missing on chain",
			zap.String("pool", pool),
			zap.String("outpoint", head.Custody.Outpoint.String()),
		)
	}
	return report, nil
}
