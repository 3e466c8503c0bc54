package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poolKeeper/internal/model"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "poold.db")
	store, err := Open(path)
	require.NoError(t, err)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := model.Snapshot{
		Engine: model.EngineSnapshot{
			Ledgers: []model.LedgerSnapshot{{
				Address:   "bcrt1ppool",
				Name:      "main",
				CreatedAt: at,
				States: []model.PoolState{
					{Sequence: 0},
					{CreatingTx: "t1", Sequence: 1, Custody: &model.Utxo{Outpoint: model.Outpoint{TxID: "t1"}, Value: 50000}},
				},
			}},
			Records: []model.TrackRecord{{TxID: "t1", AffectedPools: []string{"bcrt1ppool"}}},
			Blocks:  []model.BlockRecord{},
		},
		Reconciler: model.ReconcilerSnapshot{Balances: map[string]uint64{}},
		SavedAt:    at,
	}
	require.NoError(t, store.Save(context.Background(), snap))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap, got)

	ledger, ok, err := reopened.Ledger("bcrt1ppool")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.Engine.Ledgers[0], ledger)

	_, ok, err = reopened.Ledger("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
