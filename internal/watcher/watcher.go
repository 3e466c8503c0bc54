// Package watcher follows the node's best chain, feeds block notifications
// to the engine and unwinds orphaned blocks after a reorganization.
package watcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultBatchSize    = 50
)

// Source is the node view the watcher polls.
type Source interface {
	BlockCount(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	Block(ctx context.Context, height uint64) (model.BlockInfo, error)
	InMempool(ctx context.Context, txid model.TxID) (bool, error)
}

// Engine receives block and rollback notifications.
type Engine interface {
	OnNewBlock(height uint64, hash string, timestamp uint64, confirmedIDs []model.TxID)
	OnRollback(txid model.TxID)
	Unconfirm(txid model.TxID) bool
	Block(height uint64) (model.BlockRecord, bool)
	BlocksAbove(height uint64) []model.BlockRecord
	DropBlocksAbove(height uint64) int
	Tracked(ids []model.TxID) []model.TxID
}

// Config holds runtime settings for the watcher.
type Config struct {
	// StartHeight is the first height processed without a checkpoint.
	// Zero starts at the current tip.
	StartHeight       uint64
	PollInterval      time.Duration
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Watcher polls the node tip and drives the engine.
type Watcher struct {
	cfg        Config
	source     Source
	engine     Engine
	logger     *zap.Logger
	checkpoint *CheckpointStore

	started bool
	cursor  Checkpoint
}

func New(cfg Config, source Source, engine Engine, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	metrics.Init()

	return &Watcher{
		cfg:        cfg,
		source:     source,
		engine:     engine,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run polls until ctx is done. Poll errors are logged and retried on the
// next tick.
func (w *Watcher) Run(ctx context.Context) error {
	if w.source == nil {
		return fmt.Errorf("block source is nil")
	}
	if w.engine == nil {
		return fmt.Errorf("engine is nil")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cursor returns the last block handed to the engine.
func (w *Watcher) Cursor() Checkpoint {
	return w.cursor
}

// Poll processes every block between the cursor and the node tip, first
// unwinding the cursor if the node switched branches.
func (w *Watcher) Poll(ctx context.Context) error {
	tip, err := w.blockCount(ctx)
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if !w.started {
		if err := w.start(tip); err != nil {
			return err
		}
	}

	if err := w.detectReorg(ctx, tip); err != nil {
		return err
	}
	if w.cursor.Height >= tip {
		return nil
	}

	ranges, err := SplitRange(w.cursor.Height+1, tip, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, heights := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := w.processRange(ctx, heights)
		if saveErr := w.checkpoint.Save(w.cursor.Height, w.cursor.Hash); saveErr != nil {
			return saveErr
		}
		if err != nil {
			return err
		}
		w.logger.Info("batch complete",
			zap.Uint64("from", heights.From),
			zap.Uint64("to", w.cursor.Height),
			zap.Int("blocks", processed),
		)
		if w.cursor.Height < heights.To {
			// The branch changed mid-batch; the next poll unwinds it.
			return nil
		}
	}
	return nil
}

func (w *Watcher) start(tip uint64) error {
	cp, ok, err := w.checkpoint.Load()
	if err != nil {
		return err
	}
	switch {
	case ok:
		w.cursor = cp
		w.logger.Info("resume from checkpoint", zap.Uint64("height", cp.Height), zap.String("hash", cp.Hash))
	case w.cfg.StartHeight > 0:
		w.cursor = Checkpoint{Height: w.cfg.StartHeight - 1}
	case tip > 0:
		w.cursor = Checkpoint{Height: tip - 1}
	}
	w.started = true
	return nil
}

func (w *Watcher) processRange(ctx context.Context, heights HeightRange) (int, error) {
	processed := 0
	for height := heights.From; height <= heights.To; height++ {
		info, err := w.block(ctx, height)
		if err != nil {
			return processed, fmt.Errorf("get block %d: %w", height, err)
		}
		if w.cursor.Hash != "" && info.PrevHash != w.cursor.Hash {
			w.logger.Warn("block does not extend cursor",
				zap.Uint64("height", height),
				zap.String("prev_hash", info.PrevHash),
				zap.String("cursor_hash", w.cursor.Hash),
			)
			return processed, nil
		}

		w.engine.OnNewBlock(info.Height, info.Hash, info.Timestamp, w.engine.Tracked(info.TxIDs))
		w.cursor = Checkpoint{Height: info.Height, Hash: info.Hash}
		metrics.WatcherHeight.Set(float64(info.Height))
		processed++
	}
	return processed, nil
}

// detectReorg compares the cursor with the node's block at the same
// height and unwinds to the fork point on mismatch.
func (w *Watcher) detectReorg(ctx context.Context, tip uint64) error {
	if w.cursor.Hash == "" {
		return nil
	}
	if w.cursor.Height <= tip {
		hash, err := w.blockHash(ctx, w.cursor.Height)
		if err != nil {
			return fmt.Errorf("get block hash %d: %w", w.cursor.Height, err)
		}
		if hash == w.cursor.Hash {
			return nil
		}
	}

	fork, forkHash, err := w.findFork(ctx, tip)
	if err != nil {
		return err
	}
	w.logger.Warn("reorg detected",
		zap.Uint64("cursor_height", w.cursor.Height),
		zap.String("cursor_hash", w.cursor.Hash),
		zap.Uint64("fork_height", fork),
		zap.Uint64("tip", tip),
	)
	return w.rewind(ctx, fork, forkHash, tip)
}

// findFork walks the retained block records down from the cursor until one
// matches the node's best chain.
func (w *Watcher) findFork(ctx context.Context, tip uint64) (uint64, string, error) {
	if w.cursor.Height == 0 {
		return 0, "", nil
	}
	height := w.cursor.Height - 1
	if height > tip {
		height = tip
	}
	for {
		nodeHash, err := w.blockHash(ctx, height)
		if err != nil {
			return 0, "", fmt.Errorf("get block hash %d: %w", height, err)
		}
		rec, ok := w.engine.Block(height)
		if !ok {
			w.logger.Error("reorg reaches below retained blocks", zap.Uint64("height", height))
			return height, nodeHash, nil
		}
		if rec.Hash == nodeHash || height == 0 {
			return height, nodeHash, nil
		}
		height--
	}
}

// rewind unwinds every retained block above fork. Orphaned transactions
// that are still pending, in the mempool or on the new branch, go back to
// unconfirmed; the rest are rolled back.
func (w *Watcher) rewind(ctx context.Context, fork uint64, forkHash string, tip uint64) error {
	orphaned := w.engine.BlocksAbove(fork)

	onBranch := make(map[model.TxID]struct{})
	if len(orphaned) > 0 && tip > fork {
		for height := fork + 1; height <= tip; height++ {
			info, err := w.block(ctx, height)
			if err != nil {
				return fmt.Errorf("get block %d: %w", height, err)
			}
			for _, id := range info.TxIDs {
				onBranch[id] = struct{}{}
			}
		}
	}

	for i := len(orphaned) - 1; i >= 0; i-- {
		for _, id := range orphaned[i].ConfirmedIDs {
			pending := false
			if _, ok := onBranch[id]; ok {
				pending = true
			} else {
				var err error
				if pending, err = w.inMempool(ctx, id); err != nil {
					return fmt.Errorf("mempool lookup %s: %w", id, err)
				}
			}

			if pending {
				w.engine.Unconfirm(id)
				continue
			}
			w.engine.OnRollback(id)
		}
	}
	w.engine.DropBlocksAbove(fork)

	w.cursor = Checkpoint{Height: fork, Hash: forkHash}
	return w.checkpoint.Save(w.cursor.Height, w.cursor.Hash)
}

func (w *Watcher) blockCount(ctx context.Context) (uint64, error) {
	var height uint64
	err := w.retry(ctx, "getblockcount", func(ctx context.Context) error {
		var err error
		height, err = w.source.BlockCount(ctx)
		return err
	})
	return height, err
}

func (w *Watcher) blockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	err := w.retry(ctx, "getblockhash", func(ctx context.Context) error {
		var err error
		hash, err = w.source.BlockHash(ctx, height)
		return err
	})
	return hash, err
}

func (w *Watcher) block(ctx context.Context, height uint64) (model.BlockInfo, error) {
	var info model.BlockInfo
	err := w.retry(ctx, "getblock", func(ctx context.Context) error {
		var err error
		info, err = w.source.Block(ctx, height)
		return err
	})
	return info, err
}

func (w *Watcher) inMempool(ctx context.Context, txid model.TxID) (bool, error) {
	var ok bool
	err := w.retry(ctx, "getmempoolentry", func(ctx context.Context) error {
		var err error
		ok, err = w.source.InMempool(ctx, txid)
		return err
	})
	return ok, err
}

func (w *Watcher) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	return withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			w.logger.Warn("node call failed", zap.String("op", op), zap.Error(err))
		}
		return err
	})
}
