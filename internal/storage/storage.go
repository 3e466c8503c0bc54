// Package storage persists daemon snapshots and the event journal.
package storage

import (
	"context"

	"poolKeeper/internal/model"
)

// StateStore loads and saves the daemon snapshot.
type StateStore interface {
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Save(ctx context.Context, snap model.Snapshot) error
	Close() error
}

// EventSink receives engine and reconciler events.
type EventSink interface {
	PutEvents(events []model.Event) error
}

// MemoryStore keeps the snapshot in memory. Used when persistence is off.
type MemoryStore struct {
	snap  model.Snapshot
	saved bool
}

func (s *MemoryStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	return s.snap, s.saved, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap model.Snapshot) error {
	s.snap, s.saved = snap, true
	return nil
}

func (s *MemoryStore) Close() error { return nil }
