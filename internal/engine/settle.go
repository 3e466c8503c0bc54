package engine

import (
	"time"

	"go.uber.org/zap"

	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
)

// OnNewBlock records a block, promotes the tracked transactions it confirms
// and finalizes every retained block that is FinalityDepth below it.
// Unknown ids are ignored; the call never fails.
func (e *PoolEngine) OnNewBlock(height uint64, hash string, timestamp uint64, confirmedIDs []model.TxID) {
	now := e.cfg.Now().UTC()
	events := make([]model.Event, 0)

	e.mu.Lock()

	prev, replaced := e.tracker.StoreBlock(model.BlockRecord{
		Height:       height,
		Hash:         hash,
		Timestamp:    timestamp,
		ConfirmedIDs: confirmedIDs,
	})
	if replaced && prev.Hash != hash {
		demoted := e.demoteOrphaned(prev.ConfirmedIDs, confirmedIDs)
		e.logger.Warn("block record replaced",
			zap.Uint64("height", height),
			zap.String("previous_hash", prev.Hash),
			zap.String("hash", hash),
			zap.Int("demoted", demoted),
		)
	}

	promoted := 0
	for _, id := range confirmedIDs {
		if !e.tracker.Promote(id) {
			continue
		}
		promoted++
		pools, _ := e.tracker.ConfirmedPools(id)
		for _, pool := range pools {
			events = append(events, model.Event{Kind: model.EventConfirmed, TxID: id, Pool: pool, Height: height, At: now})
		}
	}

	finalized := 0
	if height >= e.cfg.FinalityDepth {
		var finalEvents []model.Event
		finalized, finalEvents = e.finalize(height-e.cfg.FinalityDepth, now)
		events = append(events, finalEvents...)
	}

	e.mu.Unlock()

	metrics.Blocks.Inc()
	e.logger.Debug("block processed",
		zap.Uint64("height", height),
		zap.String("hash", hash),
		zap.Int("confirmed_ids", len(confirmedIDs)),
		zap.Int("promoted", promoted),
		zap.Int("finalized", finalized),
	)
	e.emit(events)
}

// demoteOrphaned moves ids confirmed by a replaced block back to
// unconfirmed unless the replacing block confirms them too. Caller holds mu.
func (e *PoolEngine) demoteOrphaned(orphaned, confirmedIDs []model.TxID) int {
	kept := make(map[model.TxID]struct{}, len(confirmedIDs))
	for _, id := range confirmedIDs {
		kept[id] = struct{}{}
	}
	demoted := 0
	for _, id := range orphaned {
		if _, ok := kept[id]; ok {
			continue
		}
		if e.tracker.Demote(id) {
			demoted++
		}
	}
	return demoted
}

// finalize prunes ledger history behind every confirmed transaction of the
// retained blocks at or below safeHeight, oldest block first. Caller holds mu.
func (e *PoolEngine) finalize(safeHeight uint64, now time.Time) (int, []model.Event) {
	finalized := 0
	events := make([]model.Event, 0)

	for _, block := range e.tracker.BlocksAtOrBelow(safeHeight) {
		for _, id := range block.ConfirmedIDs {
			pools, ok := e.tracker.ConfirmedPools(id)
			if !ok {
				continue
			}
			for _, pool := range pools {
				l, ok := e.ledgers[pool]
				if !ok {
					e.logger.Warn("finalized transaction references unknown pool", zap.String("txid", string(id)), zap.String("pool", pool))
					continue
				}
				pruned, found := l.PruneBefore(id)
				if !found {
					e.logger.Warn("finalized state not found", zap.String("txid", string(id)), zap.String("pool", pool))
					continue
				}
				// Anything older than a final state is final too.
				for _, state := range pruned {
					if !state.Genesis() {
						e.tracker.RemovePool(state.CreatingTx, pool)
					}
				}
				e.observe(l)
				e.logger.Info("transaction finalized",
					zap.String("txid", string(id)),
					zap.String("pool", pool),
					zap.Uint64("height", block.Height),
					zap.Int("pruned_states", len(pruned)),
				)
				events = append(events, model.Event{Kind: model.EventFinalized, TxID: id, Pool: pool, Height: block.Height, At: now})
			}
			e.tracker.Remove(id)
			finalized++
			metrics.Finalized.Inc()
		}
	}
	e.tracker.DropBlocksAtOrBelow(safeHeight)

	return finalized, events
}

// OnRollback reverts the ledger history created by txid in every pool it
// affected. Untracked or already finalized ids are logged and ignored.
func (e *PoolEngine) OnRollback(txid model.TxID) {
	now := e.cfg.Now().UTC()
	events := make([]model.Event, 0)

	e.mu.Lock()

	pools, confirmed, ok := e.tracker.Lookup(txid)
	if !ok {
		e.mu.Unlock()
		metrics.Rollbacks.WithLabelValues("ignored").Inc()
		e.logger.Info("rollback of untracked transaction ignored", zap.String("txid", string(txid)))
		return
	}

	for _, pool := range pools {
		l, ok := e.ledgers[pool]
		if !ok {
			e.logger.Warn("rollback references unknown pool", zap.String("txid", string(txid)), zap.String("pool", pool))
			continue
		}
		removed, found := l.TruncateFrom(txid)
		if !found {
			e.logger.Warn("rollback target state not found", zap.String("txid", string(txid)), zap.String("pool", pool))
			continue
		}
		// States built on the reverted one are gone; so are their records.
		for _, state := range removed[1:] {
			e.tracker.RemovePool(state.CreatingTx, pool)
		}
		e.observe(l)

		head := l.Head()
		e.logger.Info("transaction rolled back",
			zap.String("txid", string(txid)),
			zap.String("pool", pool),
			zap.Bool("confirmed", confirmed),
			zap.Int("removed_states", len(removed)),
			zap.Uint64("head_sequence", head.Sequence),
			zap.Uint64("total_custodied", head.CustodyValue()),
		)
		events = append(events, model.Event{Kind: model.EventRolledBack, TxID: txid, Pool: pool, Sequence: head.Sequence, At: now})
	}
	e.tracker.Remove(txid)

	e.mu.Unlock()

	metrics.Rollbacks.WithLabelValues("applied").Inc()
	e.emit(events)
}
