package service

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"go.uber.org/zap"

	"poolKeeper/internal/model"
	"poolKeeper/internal/txcodec"
)

// SpendResult is a proposal that was signed and, when a broadcaster is
// configured, relayed.
type SpendResult struct {
	TxID        model.TxID      `json:"txid"`
	RawTx       string          `json:"raw_tx"`
	State       model.PoolState `json:"state"`
	Broadcasted bool            `json:"broadcasted"`
}

// SubmitSpend decodes a PSBT, proposes it against pool, attaches the
// custody signature and broadcasts the final transaction. Any failure after
// the proposal was applied rolls it back.
func (s *Service) SubmitSpend(ctx context.Context, encoded string, claimedSequence uint64, pool string) (SpendResult, error) {
	if s.cfg.Codec == nil {
		return SpendResult{}, fmt.Errorf("%w: no transaction codec configured", ErrInvalidRequest)
	}
	candidate, packet, err := s.cfg.Codec.Decode(encoded)
	if err != nil {
		return SpendResult{}, err
	}

	signed, err := s.engine.ProposeSpend(ctx, candidate, claimedSequence, pool)
	if err != nil {
		return SpendResult{}, err
	}
	logger := s.logger.With(zap.String("pool", pool), zap.String("txid", string(candidate.ID)))

	raw, err := s.assemble(signed.InputIndex, signed.Witness, packet)
	if err != nil {
		logger.Warn("final transaction assembly failed, rolling back", zap.Error(err))
		s.engine.OnRollback(candidate.ID)
		s.persist(ctx)
		return SpendResult{}, err
	}

	result := SpendResult{TxID: candidate.ID, RawTx: raw, State: signed.State}
	if s.cfg.Broadcaster != nil {
		if _, err := s.cfg.Broadcaster.Submit(ctx, raw); err != nil {
			logger.Warn("broadcast failed, rolling back", zap.Error(err))
			s.engine.OnRollback(candidate.ID)
			s.persist(ctx)
			return SpendResult{}, fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
		}
		result.Broadcasted = true
	}

	s.persist(ctx)
	logger.Info("spend submitted", zap.Uint64("sequence", signed.State.Sequence), zap.Bool("broadcasted", result.Broadcasted))
	return result, nil
}

func (s *Service) assemble(inputIndex int, witness [][]byte, packet *psbt.Packet) (string, error) {
	tx, err := txcodec.Finalize(packet, inputIndex, witness)
	if err != nil {
		return "", err
	}
	return txcodec.EncodeTx(tx)
}
