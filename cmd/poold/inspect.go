package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"poolKeeper/internal/config"
	"poolKeeper/internal/model"
	"poolKeeper/internal/storage"
)

type inspection struct {
	Pool    string                  `json:"pool,omitempty"`
	Ledgers []model.LedgerSnapshot  `json:"ledgers"`
	Records []model.TrackRecord     `json:"records"`
	Blocks  []model.BlockRecord     `json:"blocks"`
	Pending []model.LiabilityRecord `json:"pending_mints"`
	Events  []model.Event           `json:"events,omitempty"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	pool, _ := cmd.Flags().GetString("pool")
	withEvents, _ := cmd.Flags().GetBool("events")

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, ok, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no persisted state in %s store", cfg.Store)
	}

	out := filterSnapshot(snap, pool)
	if withEvents && cfg.Journal != "" {
		if out.Events, err = storage.ReadJournal(cfg.Journal, pool); err != nil {
			return err
		}
	}
	return printJSON(out)
}

func filterSnapshot(snap model.Snapshot, pool string) inspection {
	out := inspection{
		Pool:    pool,
		Ledgers: make([]model.LedgerSnapshot, 0),
		Records: make([]model.TrackRecord, 0),
		Blocks:  snap.Engine.Blocks,
		Pending: make([]model.LiabilityRecord, 0),
	}
	for _, l := range snap.Engine.Ledgers {
		if pool == "" || l.Address == pool {
			out.Ledgers = append(out.Ledgers, l)
		}
	}
	for _, r := range snap.Engine.Records {
		if pool == "" || r.Affects(pool) {
			out.Records = append(out.Records, r)
		}
	}
	for _, l := range snap.Reconciler.Liabilities {
		if l.Minted() {
			continue
		}
		if pool == "" || l.PoolAddress == pool {
			out.Pending = append(out.Pending, l)
		}
	}
	return out
}
