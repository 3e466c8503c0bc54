package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poolKeeper/internal/model"
)

func TestPoolRowOf(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	genesis := poolRowOf(model.LedgerSnapshot{Address: "p", Name: "main", CreatedAt: at, States: []model.PoolState{{}}})
	require.Equal(t, "p", genesis.Address)
	require.Equal(t, []string{}, genesis.DerivationPath)
	require.Nil(t, genesis.CustodyTxID)
	require.Nil(t, genesis.CustodyVout)
	require.Zero(t, genesis.HeadSequence)

	funded := poolRowOf(model.LedgerSnapshot{
		Address:        "p",
		DerivationPath: []string{"86'", "1'", "0'"},
		States: []model.PoolState{
			{Sequence: 0},
			{CreatingTx: "t1", Sequence: 1, Custody: &model.Utxo{Outpoint: model.Outpoint{TxID: "t1", Vout: 2}, Value: 70000}},
		},
	})
	require.EqualValues(t, 1, funded.HeadSequence)
	require.Equal(t, "t1", *funded.CustodyTxID)
	require.EqualValues(t, 2, *funded.CustodyVout)
	require.EqualValues(t, 70000, funded.CustodyValue)
}

func TestStateStoreNameDefault(t *testing.T) {
	require.Equal(t, DefaultStateName, (&StateStore{}).name())
	require.Equal(t, "alt", (&StateStore{Name: "alt"}).name())
}

// Runs against a real database when POOLD_TEST_PG_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("POOLD_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POOLD_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	state := &StateStore{Store: store, Name: "test-" + time.Now().UTC().Format("150405.000000")}
	t.Cleanup(func() { _ = state.Close() })

	require.NoError(t, store.EnsureSchema(ctx))

	_, ok, err := state.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := model.Snapshot{
		Engine: model.EngineSnapshot{
			Ledgers: []model.LedgerSnapshot{{Address: "bcrt1pintegration", Name: "it", CreatedAt: at, States: []model.PoolState{{}}}},
		},
		Reconciler: model.ReconcilerSnapshot{
			Liabilities: []model.LiabilityRecord{{FundingTx: "it-funding", DepositorAddress: "a", PoolAddress: "bcrt1pintegration", LiabilityAmount: 1, FundingAmount: 1, CreatedAt: at}},
			Balances:    map[string]uint64{"a": 1},
		},
		SavedAt: at,
	}
	require.NoError(t, state.Save(ctx, snap))

	got, ok, err := state.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.Reconciler.Balances, got.Reconciler.Balances)
	require.Equal(t, snap.Engine.Ledgers[0].Address, got.Engine.Ledgers[0].Address)
}
