package service

import (
	"context"

	"poolKeeper/internal/model"
)

func (s *Service) RecordIntent(ctx context.Context, depositor, pool string, amount uint64) (uint64, error) {
	nonce, err := s.reconciler.RecordIntent(depositor, pool, amount)
	if err != nil {
		return 0, err
	}
	s.persist(ctx)
	return nonce, nil
}

// PreDeposit quotes a deposit at the current recommended fee rate and
// records its intent.
func (s *Service) PreDeposit(ctx context.Context, depositor, pool string, amount uint64) (model.DepositOffer, error) {
	rate := s.cfg.Fees.RecommendedFeeRate(ctx)
	offer, err := s.reconciler.PreDeposit(depositor, pool, amount, rate)
	if err != nil {
		return model.DepositOffer{}, err
	}
	s.persist(ctx)
	return offer, nil
}

func (s *Service) Reconcile(ctx context.Context, fundingTx model.TxID, nonce, observedAmount uint64, observedSender string) (model.LiabilityRecord, error) {
	record, err := s.reconciler.Reconcile(fundingTx, nonce, observedAmount, observedSender)
	if err != nil {
		return model.LiabilityRecord{}, err
	}
	s.persist(ctx)
	return record, nil
}

func (s *Service) MarkMinted(ctx context.Context, fundingTx, mintTx model.TxID) error {
	if err := s.reconciler.MarkMinted(fundingTx, mintTx); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

func (s *Service) PendingMints() []model.LiabilityRecord {
	return s.reconciler.PendingMints()
}

func (s *Service) Balance(address string) uint64 {
	return s.reconciler.Balance(address)
}

func (s *Service) FeeRate(ctx context.Context) float64 {
	return s.cfg.Fees.RecommendedFeeRate(ctx)
}
