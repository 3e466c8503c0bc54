package engine

import (
	"go.uber.org/zap"

	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
)

// Tracked filters ids down to the transactions the engine tracks.
func (e *PoolEngine) Tracked(ids []model.TxID) []model.TxID {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.TxID, 0)
	for _, id := range ids {
		if e.tracker.Tracked(id) {
			out = append(out, id)
		}
	}
	return out
}

// BlocksAbove returns the retained blocks higher than height, ascending.
func (e *PoolEngine) BlocksAbove(height uint64) []model.BlockRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.BlocksAbove(height)
}

// Unconfirm moves a confirmed transaction back to unconfirmed when the
// block that confirmed it was orphaned but the transaction is still pending.
func (e *PoolEngine) Unconfirm(txid model.TxID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tracker.Demote(txid) {
		return false
	}
	e.logger.Info("transaction unconfirmed by reorg", zap.String("txid", string(txid)))
	return true
}

// DropBlocksAbove discards retained blocks orphaned by a reorg at height.
func (e *PoolEngine) DropBlocksAbove(height uint64) int {
	e.mu.Lock()
	dropped := e.tracker.DropBlocksAbove(height)
	e.mu.Unlock()

	if dropped > 0 {
		metrics.Reorgs.Inc()
		e.logger.Warn("orphaned blocks discarded", zap.Uint64("fork_height", height), zap.Int("blocks", dropped))
	}
	return dropped
}
