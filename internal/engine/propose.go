package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"poolKeeper/internal/guard"
	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
)

// SignedSpend is the result of an applied proposal.
type SignedSpend struct {
	Candidate  model.Candidate
	State      model.PoolState
	Witness    Witness
	InputIndex int
}

type proposal struct {
	pool           string
	derivationPath []string
	head           model.PoolState
	spent          *model.Utxo
	inputIndex     int
	custody        model.Utxo
	candidate      model.Candidate
}

// ProposeSpend validates candidate against the head of pool, obtains the
// custody signature and advances the ledger. The ledger is only mutated
// after signing succeeds; every failure leaves it unchanged.
func (e *PoolEngine) ProposeSpend(ctx context.Context, candidate model.Candidate, claimedSequence uint64, pool string) (SignedSpend, error) {
	var out SignedSpend
	err := e.guard.Do(pool, func(guard.Token) error {
		var err error
		out, err = e.propose(ctx, candidate, claimedSequence, pool)
		return err
	})
	if errors.Is(err, guard.ErrBusy) {
		metrics.Proposals.WithLabelValues("busy").Inc()
		return SignedSpend{}, fmt.Errorf("%w: %s", ErrPoolBusy, pool)
	}
	return out, err
}

// propose runs one proposal. Caller holds the guard for pool.
func (e *PoolEngine) propose(ctx context.Context, candidate model.Candidate, claimedSequence uint64, pool string) (SignedSpend, error) {
	logger := e.logger.With(zap.String("pool", pool), zap.String("txid", string(candidate.ID)))

	p, err := e.plan(candidate, claimedSequence, pool)
	if err != nil {
		metrics.Proposals.WithLabelValues("rejected").Inc()
		logger.Info("proposal rejected", zap.Error(err), zap.Uint64("claimed_sequence", claimedSequence))
		return SignedSpend{}, err
	}

	var witness Witness
	if p.spent != nil {
		witness, err = e.sign(ctx, p)
		if err != nil {
			metrics.Proposals.WithLabelValues("signing_failed").Inc()
			logger.Warn("custody signing failed", zap.Error(err))
			return SignedSpend{}, fmt.Errorf("%w: %w", ErrSigningFailed, err)
		}
	}

	state, err := e.commit(p)
	if err != nil {
		metrics.Proposals.WithLabelValues("rejected").Inc()
		logger.Info("proposal rejected at commit", zap.Error(err))
		return SignedSpend{}, err
	}

	metrics.Proposals.WithLabelValues("applied").Inc()
	logger.Info("proposal applied",
		zap.Uint64("sequence", state.Sequence),
		zap.Uint64("custody_value", state.CustodyValue()),
	)
	e.emit([]model.Event{{
		Kind:     model.EventProposed,
		TxID:     candidate.ID,
		Pool:     pool,
		Sequence: state.Sequence,
		Amount:   state.CustodyValue(),
		At:       e.cfg.Now().UTC(),
	}})

	return SignedSpend{
		Candidate:  candidate,
		State:      state,
		Witness:    witness,
		InputIndex: p.inputIndex,
	}, nil
}

func (e *PoolEngine) plan(candidate model.Candidate, claimedSequence uint64, pool string) (proposal, error) {
	if candidate.ID == "" {
		return proposal{}, ErrInvalidCandidate
	}

	e.mu.Lock()
	l, ok := e.ledgers[pool]
	if !ok {
		e.mu.Unlock()
		return proposal{}, fmt.Errorf("%w: %s", ErrUnknownPool, pool)
	}
	head := l.Head()
	derivationPath := append([]string(nil), l.DerivationPath...)
	e.mu.Unlock()

	if head.Sequence != claimedSequence {
		return proposal{}, fmt.Errorf("%w: head %d, claimed %d", ErrStaleProposal, head.Sequence, claimedSequence)
	}

	p := proposal{
		pool:           pool,
		derivationPath: derivationPath,
		head:           head,
		inputIndex:     -1,
		candidate:      candidate,
	}

	if head.Custody != nil {
		p.inputIndex = candidate.InputIndex(head.Custody.Outpoint)
		if p.inputIndex < 0 {
			return proposal{}, fmt.Errorf("%w: custody %s not spent", ErrUtxoMismatch, head.Custody.Outpoint)
		}
		spent := *head.Custody
		p.spent = &spent
	}
	for i, in := range candidate.Inputs {
		if i == p.inputIndex {
			continue
		}
		if in.Address == pool {
			return proposal{}, fmt.Errorf("%w: input %s claims pool address", ErrUtxoMismatch, in.Outpoint)
		}
	}

	vout := -1
	for i, out := range candidate.Outputs {
		if out.Address == pool {
			vout = i
			break
		}
	}
	if vout < 0 {
		return proposal{}, ErrNoCustodyOutput
	}
	p.custody = model.Utxo{
		Outpoint: model.Outpoint{TxID: candidate.ID, Vout: uint32(vout)},
		Value:    candidate.Outputs[vout].Value,
	}

	return p, nil
}

func (e *PoolEngine) sign(ctx context.Context, p proposal) (Witness, error) {
	if e.cfg.Signer == nil {
		return nil, fmt.Errorf("no signer configured")
	}
	return e.cfg.Signer.SignInput(ctx, SignRequest{
		Pool:           p.pool,
		DerivationPath: p.derivationPath,
		Outpoint:       p.spent.Outpoint,
		Value:          p.spent.Value,
		InputIndex:     p.inputIndex,
		Candidate:      p.candidate,
	})
}

// commit pushes the staged state. A rollback may have moved the head while
// the signer was running, in which case the proposal is stale.
func (e *PoolEngine) commit(p proposal) (model.PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[p.pool]
	if !ok {
		return model.PoolState{}, fmt.Errorf("%w: %s", ErrUnknownPool, p.pool)
	}
	head := l.Head()
	if head.Sequence != p.head.Sequence || head.CreatingTx != p.head.CreatingTx {
		return model.PoolState{}, fmt.Errorf("%w: head moved to %d while signing", ErrStaleProposal, head.Sequence)
	}

	state := l.Stage(p.candidate.ID, p.custody)
	if err := l.Push(state); err != nil {
		return model.PoolState{}, err
	}
	e.tracker.TrackUnconfirmed(p.candidate.ID, p.pool)
	e.observe(l)

	return state, nil
}
