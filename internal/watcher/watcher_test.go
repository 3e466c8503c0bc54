package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poolKeeper/internal/engine"
	"poolKeeper/internal/model"
)

const pool = "bcrt1ppool"

type fakeChain struct {
	mu       sync.Mutex
	blocks   []model.BlockInfo
	mempool  map[model.TxID]bool
	failNext int
}

func newFakeChain() *fakeChain {
	return &fakeChain{mempool: make(map[model.TxID]bool)}
}

// branch replaces every block from height on with n new blocks.
func (c *fakeChain) branch(from uint64, name string, n int, txs map[uint64][]model.TxID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = c.blocks[:from]
	for h := from; h < from+uint64(n); h++ {
		prev := ""
		if h > 0 {
			prev = c.blocks[h-1].Hash
		}
		ids := append([]model.TxID{model.TxID(fmt.Sprintf("coinbase-%s%d", name, h))}, txs[h]...)
		c.blocks = append(c.blocks, model.BlockInfo{
			Height:    h,
			Hash:      fmt.Sprintf("%s%d", name, h),
			PrevHash:  prev,
			Timestamp: 1700000000 + h,
			TxIDs:     ids,
		})
	}
}

func (c *fakeChain) BlockCount(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return 0, errors.New("connection refused")
	}
	return uint64(len(c.blocks) - 1), nil
}

func (c *fakeChain) BlockHash(ctx context.Context, height uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.blocks)) {
		return "", errors.New("block height out of range")
	}
	return c.blocks[height].Hash, nil
}

func (c *fakeChain) Block(ctx context.Context, height uint64) (model.BlockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.blocks)) {
		return model.BlockInfo{}, errors.New("block height out of range")
	}
	return c.blocks[height], nil
}

func (c *fakeChain) InMempool(ctx context.Context, txid model.TxID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mempool[txid], nil
}

type countingEngine struct {
	*engine.PoolEngine
	blocks int
}

func (e *countingEngine) OnNewBlock(height uint64, hash string, timestamp uint64, confirmedIDs []model.TxID) {
	e.blocks++
	e.PoolEngine.OnNewBlock(height, hash, timestamp, confirmedIDs)
}

func newEngine(t *testing.T) *countingEngine {
	t.Helper()
	e := engine.New(engine.Config{}, zap.NewNop())
	require.NoError(t, e.RegisterPool(pool, "test", nil))

	_, err := e.ProposeSpend(context.Background(), model.Candidate{
		ID:      "T1",
		Inputs:  []model.CandidateInput{{Outpoint: model.Outpoint{TxID: "funding", Vout: 0}, Address: "bcrt1quser"}},
		Outputs: []model.TxOutput{{Address: pool, Value: 100000}},
	}, 0, pool)
	require.NoError(t, err)
	return &countingEngine{PoolEngine: e}
}

func newWatcher(t *testing.T, chain *fakeChain, eng Engine, checkpoint string) *Watcher {
	t.Helper()
	return New(Config{
		StartHeight:       1,
		BatchSize:         2,
		CheckpointPath:    checkpoint,
		CheckpointEnabled: checkpoint != "",
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
	}, chain, eng, zap.NewNop())
}

func TestPollFeedsBlocks(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 4, map[uint64][]model.TxID{2: {"T1"}})
	eng := newEngine(t)
	w := newWatcher(t, chain, eng, "")

	require.NoError(t, w.Poll(context.Background()))
	require.Equal(t, Checkpoint{Height: 3, Hash: "a3"}, w.Cursor())
	require.Equal(t, 3, eng.blocks)

	block, ok := eng.Block(2)
	require.True(t, ok)
	require.Equal(t, []model.TxID{"T1"}, block.ConfirmedIDs, "only tracked ids are retained")
	require.Equal(t, []model.TrackRecord{{TxID: "T1", Confirmed: true, AffectedPools: []string{pool}}}, eng.Records())

	require.NoError(t, w.Poll(context.Background()))
	require.Equal(t, 3, eng.blocks, "no new blocks")
}

func TestReorgRollsBackEvictedTransaction(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 4, map[uint64][]model.TxID{2: {"T1"}})
	eng := newEngine(t)
	w := newWatcher(t, chain, eng, "")
	require.NoError(t, w.Poll(context.Background()))

	chain.branch(2, "b", 3, nil)
	require.NoError(t, w.Poll(context.Background()))

	require.Equal(t, Checkpoint{Height: 4, Hash: "b4"}, w.Cursor())
	head, err := eng.Head(pool)
	require.NoError(t, err)
	require.True(t, head.Genesis())
	require.Empty(t, eng.Records())

	block, ok := eng.Block(2)
	require.True(t, ok)
	require.Equal(t, "b2", block.Hash)
}

func TestReorgKeepsPendingTransaction(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 4, map[uint64][]model.TxID{2: {"T1"}})
	eng := newEngine(t)
	w := newWatcher(t, chain, eng, "")
	require.NoError(t, w.Poll(context.Background()))

	chain.branch(2, "b", 2, nil)
	chain.mempool["T1"] = true
	require.NoError(t, w.Poll(context.Background()))

	head, err := eng.Head(pool)
	require.NoError(t, err)
	require.Equal(t, model.TxID("T1"), head.CreatingTx)
	require.Equal(t, []model.TrackRecord{{TxID: "T1", AffectedPools: []string{pool}}}, eng.Records())
}

func TestReorgReconfirmsOnNewBranch(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 4, map[uint64][]model.TxID{2: {"T1"}})
	eng := newEngine(t)
	w := newWatcher(t, chain, eng, "")
	require.NoError(t, w.Poll(context.Background()))

	chain.branch(2, "b", 4, map[uint64][]model.TxID{4: {"T1"}})
	require.NoError(t, w.Poll(context.Background()))

	require.Equal(t, []model.TrackRecord{{TxID: "T1", Confirmed: true, AffectedPools: []string{pool}}}, eng.Records())
	block, ok := eng.Block(4)
	require.True(t, ok)
	require.Equal(t, []model.TxID{"T1"}, block.ConfirmedIDs)
	_, ok = eng.Block(2)
	require.True(t, ok)
}

func TestCheckpointResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watcher.json")
	chain := newFakeChain()
	chain.branch(0, "a", 4, nil)

	first := newEngine(t)
	require.NoError(t, newWatcher(t, chain, first, path).Poll(context.Background()))
	require.Equal(t, 3, first.blocks)

	cp, ok, err := NewCheckpointStore(path, true).Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), cp.Height)
	require.Equal(t, "a3", cp.Hash)

	chain.branch(4, "a", 2, nil)
	second := newEngine(t)
	w := newWatcher(t, chain, second, path)
	require.NoError(t, w.Poll(context.Background()))
	require.Equal(t, 2, second.blocks, "resumes after the checkpoint")
	require.Equal(t, uint64(5), w.Cursor().Height)
}

func TestPollRetriesNodeErrors(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 2, nil)
	chain.failNext = 2
	eng := newEngine(t)

	require.NoError(t, newWatcher(t, chain, eng, "").Poll(context.Background()))
	require.Equal(t, 1, eng.blocks)

	chain.failNext = 5
	require.Error(t, newWatcher(t, chain, eng, "").Poll(context.Background()))
}

func TestRunStopsWithContext(t *testing.T) {
	chain := newFakeChain()
	chain.branch(0, "a", 2, nil)
	w := New(Config{PollInterval: time.Millisecond}, chain, newEngine(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
