// Package bolt persists daemon snapshots in an embedded bbolt database.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"poolKeeper/internal/model"
)

var (
	bucketState = []byte("state")
	bucketPools = []byte("pool_ledgers")

	keyCurrent = []byte("current")
)

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketState, bucketPools} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var (
		snap  model.Snapshot
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketState).Get(keyCurrent)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &snap)
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, found, nil
}

// Save writes the snapshot and one record per pool ledger in a single
// transaction.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketState).Put(keyCurrent, data); err != nil {
			return err
		}

		pools := tx.Bucket(bucketPools)
		for _, ledger := range snap.Engine.Ledgers {
			v, err := json.Marshal(ledger)
			if err != nil {
				return fmt.Errorf("marshal ledger %s: %w", ledger.Address, err)
			}
			if err := pools.Put([]byte(ledger.Address), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ledger returns the last saved ledger of one pool.
func (s *Store) Ledger(address string) (model.LedgerSnapshot, bool, error) {
	var (
		ledger model.LedgerSnapshot
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPools).Get([]byte(address))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &ledger)
	})
	if err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("load ledger %s: %w", address, err)
	}
	return ledger, found, nil
}
