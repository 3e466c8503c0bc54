package postgres

import (
	"context"

	"poolKeeper/internal/model"
)

// DefaultStateName is the poold_state row used when none is configured.
const DefaultStateName = "poold"

// StateStore adapts Store to storage.StateStore. Every save also refreshes
// the pools and liabilities reporting tables.
type StateStore struct {
	Store *Store
	Name  string
}

func (s *StateStore) name() string {
	if s.Name == "" {
		return DefaultStateName
	}
	return s.Name
}

func (s *StateStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	return s.Store.LoadSnapshot(ctx, s.name())
}

func (s *StateStore) Save(ctx context.Context, snap model.Snapshot) error {
	if err := s.Store.SaveSnapshot(ctx, s.name(), snap); err != nil {
		return err
	}
	if err := s.Store.UpsertPools(ctx, snap.Engine.Ledgers); err != nil {
		return err
	}
	return s.Store.UpsertLiabilities(ctx, snap.Reconciler.Liabilities)
}

func (s *StateStore) Close() error {
	s.Store.Close()
	return nil
}
