package engine

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poolKeeper/internal/model"
)

func TestConfirmationThenFinalization(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)

	e.OnNewBlock(100, "h100", 1700000100, []model.TxID{"T1"})
	require.Equal(t, []model.TrackRecord{{TxID: "T1", Confirmed: true, AffectedPools: []string{testPool}}}, e.Records())

	states, err := e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 2)

	e.OnNewBlock(106, "h106", 1700000700, nil)

	states, err = e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, model.TxID("T1"), states[0].CreatingTx)
	require.Equal(t, uint64(1), states[0].Sequence)
	require.Empty(t, e.Records())

	_, ok := e.Block(100)
	require.False(t, ok, "finalized blocks are dropped")
	_, ok = e.Block(106)
	require.True(t, ok)
}

func TestNoFinalizationBelowDepth(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)

	e.OnNewBlock(3, "h3", 0, []model.TxID{"T1"})
	e.OnNewBlock(5, "h5", 0, nil)

	states, err := e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Len(t, e.Records(), 1)
}

func TestFinalizationPrunesInBlockOrder(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)
	advance(t, e, "T3", 120000)

	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})
	e.OnNewBlock(101, "h101", 0, []model.TxID{"T2"})
	e.OnNewBlock(107, "h107", 0, nil)

	states, err := e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, model.TxID("T2"), states[0].CreatingTx)
	require.Equal(t, model.TxID("T3"), states[1].CreatingTx)
	require.Equal(t, []model.TrackRecord{{TxID: "T3", AffectedPools: []string{testPool}}}, e.Records())
}

func TestOnNewBlockIgnoresUnknownIDs(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	before := e.Records()

	e.OnNewBlock(100, "h100", 0, []model.TxID{"unknown", "other"})
	require.Equal(t, before, e.Records())
}

func TestOnNewBlockIdempotent(t *testing.T) {
	build := func(times int) model.EngineSnapshot {
		e := newTestEngine(t, &fakeSigner{})
		advance(t, e, "T1", 100000)
		advance(t, e, "T2", 110000)
		for i := 0; i < times; i++ {
			e.OnNewBlock(100, "h100", 1, []model.TxID{"T1"})
		}
		for i := 0; i < times; i++ {
			e.OnNewBlock(106, "h106", 2, []model.TxID{"T2"})
		}
		return e.Snapshot()
	}

	require.Equal(t, build(1), build(2))
}

func TestRollbackRestoresPreviousState(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})

	before := e.Snapshot()
	total, err := e.TotalCustodied(testPool)
	require.NoError(t, err)

	advance(t, e, "T2", 250000)
	e.OnRollback("T2")

	require.Equal(t, before, e.Snapshot())
	after, err := e.TotalCustodied(testPool)
	require.NoError(t, err)
	require.Equal(t, total, after)
}

func TestRollbackConfirmedBeforeFinality(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})

	e.OnRollback("T1")

	head, err := e.Head(testPool)
	require.NoError(t, err)
	require.True(t, head.Genesis())
	require.Empty(t, e.Records())
}

func TestRollbackDiscardsDescendants(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)
	advance(t, e, "T3", 120000)

	e.OnRollback("T2")

	states, err := e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, model.TxID("T1"), states[1].CreatingTx)
	require.Equal(t, []model.TrackRecord{{TxID: "T1", AffectedPools: []string{testPool}}}, e.Records())

	e.OnRollback("T3")
	again, err := e.States(testPool)
	require.NoError(t, err)
	require.Equal(t, states, again)
}

func TestFinalizedTransactionCannotRollBack(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)
	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})
	e.OnNewBlock(106, "h106", 0, nil)

	before, err := e.States(testPool)
	require.NoError(t, err)

	e.OnRollback("T1")
	after, err := e.States(testPool)
	require.NoError(t, err)
	require.Equal(t, before, after)

	e.OnRollback("T2")
	after, err = e.States(testPool)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, model.TxID("T1"), after[0].CreatingTx)
}

func TestEventsFollowTransitions(t *testing.T) {
	sink := &memorySink{}
	e := New(Config{Signer: &fakeSigner{}, Events: sink}, zap.NewNop())
	require.NoError(t, e.RegisterPool(testPool, "test", nil))

	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)
	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})
	e.OnRollback("T2")
	e.OnNewBlock(106, "h106", 0, nil)

	require.Equal(t, []string{
		model.EventProposed,
		model.EventProposed,
		model.EventConfirmed,
		model.EventRolledBack,
		model.EventFinalized,
	}, sink.Kinds())
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)
	e.OnNewBlock(100, "h100", 0, []model.TxID{"T1"})
	require.NoError(t, e.CreditPool(testPool, 100000, 98000))

	snap := e.Snapshot()

	restored := New(Config{Signer: &fakeSigner{}}, zap.NewNop())
	require.NoError(t, restored.Restore(snap))
	require.Equal(t, snap, restored.Snapshot())

	head, err := restored.Head(testPool)
	require.NoError(t, err)
	_, err = restored.ProposeSpend(context.Background(), spendTx("T3", *head.Custody, 120000), head.Sequence, testPool)
	require.NoError(t, err)

	restored.OnNewBlock(106, "h106", 0, nil)
	states, err := restored.States(testPool)
	require.NoError(t, err)
	require.Equal(t, model.TxID("T1"), states[0].CreatingTx)
}

func TestRestoreRejectsGap(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	snap := model.EngineSnapshot{Ledgers: []model.LedgerSnapshot{{
		Address: testPool,
		States: []model.PoolState{
			{Sequence: 0},
			{Sequence: 2, CreatingTx: "T2"},
		},
	}}}
	require.Error(t, e.Restore(snap))

	// The failed restore keeps the previous state.
	require.Len(t, e.PoolList(), 1)
}

// TestRandomOperationsKeepInvariants drives the engine with a random mix
// of proposals, confirmations and rollbacks and checks the ledger after
// every step.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := New(Config{Signer: &fakeSigner{}, Now: func() time.Time { return time.Unix(0, 0) }}, zap.NewNop())
	require.NoError(t, e.RegisterPool(testPool, "test", nil))

	var (
		height     uint64 = 100
		next       int
		proposed   []model.TxID
		oldestSeen uint64
	)

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(10); {
		case op < 5:
			next++
			id := model.TxID(fmt.Sprintf("tx%d", next))
			head, err := e.Head(testPool)
			require.NoError(t, err)
			candidate := depositTx(id, uint64(1000+rng.Intn(100000)))
			if head.Custody != nil {
				candidate = spendTx(id, *head.Custody, uint64(1000+rng.Intn(100000)))
			}
			_, err = e.ProposeSpend(context.Background(), candidate, head.Sequence, testPool)
			require.NoError(t, err)
			proposed = append(proposed, id)
		case op < 8:
			height++
			var confirmed []model.TxID
			for _, id := range proposed {
				if rng.Intn(2) == 0 {
					confirmed = append(confirmed, id)
				}
			}
			e.OnNewBlock(height, fmt.Sprintf("h%d", height), height, confirmed)
		default:
			if len(proposed) == 0 {
				continue
			}
			e.OnRollback(proposed[rng.Intn(len(proposed))])
		}

		states, err := e.States(testPool)
		require.NoError(t, err)
		requireContiguous(t, states)

		oldest := states[0].Sequence
		require.GreaterOrEqual(t, oldest, oldestSeen, "finalized history reverted at step %d", step)
		oldestSeen = oldest

		present := make(map[model.TxID]bool, len(states))
		for _, state := range states {
			present[state.CreatingTx] = true
		}
		for _, rec := range e.Records() {
			require.True(t, present[rec.TxID], "record %s has no state at step %d", rec.TxID, step)
		}
	}
}

func TestReplacedBlockDemotesMissingIDs(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)

	e.OnNewBlock(100, "a", 0, []model.TxID{"T1"})
	e.OnNewBlock(101, "b", 0, nil)
	e.OnNewBlock(100, "a2", 0, nil)
	require.Equal(t, []model.TrackRecord{{TxID: "T1", AffectedPools: []string{testPool}}}, e.Records())

	e.OnNewBlock(200, "z", 0, nil)
	states, err := e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 2, "an unconfirmed transaction is never finalized")

	e.OnNewBlock(201, "y", 0, []model.TxID{"T1"})
	e.OnNewBlock(207, "x", 0, nil)
	states, err = e.States(testPool)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Empty(t, e.Records())
}

func TestReplacedBlockKeepsReconfirmedIDs(t *testing.T) {
	e := newTestEngine(t, &fakeSigner{})
	advance(t, e, "T1", 100000)
	advance(t, e, "T2", 110000)

	e.OnNewBlock(100, "a", 0, []model.TxID{"T1", "T2"})
	e.OnNewBlock(100, "a2", 0, []model.TxID{"T2"})

	require.Equal(t, []model.TrackRecord{
		{TxID: "T1", AffectedPools: []string{testPool}},
		{TxID: "T2", Confirmed: true, AffectedPools: []string{testPool}},
	}, e.Records())
}
