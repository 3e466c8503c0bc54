// Package tracker indexes in-flight transactions and the blocks that
// confirmed them until they are finalized.
package tracker

import (
	"sort"

	"poolKeeper/internal/model"
)

type poolSet map[string]struct{}

// Tracker holds unconfirmed and confirmed track records plus retained
// block records. A txid lives under at most one of the two keys.
// It is not safe for concurrent use; the engine serializes access.
type Tracker struct {
	unconfirmed map[model.TxID]poolSet
	confirmed   map[model.TxID]poolSet
	blocks      map[uint64]model.BlockRecord
}

func New() *Tracker {
	return &Tracker{
		unconfirmed: make(map[model.TxID]poolSet),
		confirmed:   make(map[model.TxID]poolSet),
		blocks:      make(map[uint64]model.BlockRecord),
	}
}

// TrackUnconfirmed records that txid advanced pool. Adding a pool to an
// existing record extends its set. A txid that is already confirmed keeps
// its confirmed record.
func (t *Tracker) TrackUnconfirmed(txid model.TxID, pool string) {
	if set, ok := t.confirmed[txid]; ok {
		set[pool] = struct{}{}
		return
	}
	set, ok := t.unconfirmed[txid]
	if !ok {
		set = make(poolSet)
		t.unconfirmed[txid] = set
	}
	set[pool] = struct{}{}
}

// Promote moves an unconfirmed record to the confirmed key. It reports
// false when txid has no unconfirmed record.
func (t *Tracker) Promote(txid model.TxID) bool {
	set, ok := t.unconfirmed[txid]
	if !ok {
		return false
	}
	delete(t.unconfirmed, txid)
	t.confirmed[txid] = set
	return true
}

// Demote moves a confirmed record back to the unconfirmed key after the
// block that confirmed it was orphaned.
func (t *Tracker) Demote(txid model.TxID) bool {
	set, ok := t.confirmed[txid]
	if !ok {
		return false
	}
	delete(t.confirmed, txid)
	t.unconfirmed[txid] = set
	return true
}

// Tracked reports whether txid has a record under either key.
func (t *Tracker) Tracked(txid model.TxID) bool {
	_, unconfirmed := t.unconfirmed[txid]
	_, confirmed := t.confirmed[txid]
	return unconfirmed || confirmed
}

// Lookup returns the affected pools of txid, checking the unconfirmed key
// first, then the confirmed key.
func (t *Tracker) Lookup(txid model.TxID) ([]string, bool, bool) {
	if set, ok := t.unconfirmed[txid]; ok {
		return model.SortedPools(set), false, true
	}
	if set, ok := t.confirmed[txid]; ok {
		return model.SortedPools(set), true, true
	}
	return nil, false, false
}

// ConfirmedPools returns the pools of a confirmed record.
func (t *Tracker) ConfirmedPools(txid model.TxID) ([]string, bool) {
	set, ok := t.confirmed[txid]
	if !ok {
		return nil, false
	}
	return model.SortedPools(set), true
}

// IsUnconfirmed reports whether txid has an unconfirmed record.
func (t *Tracker) IsUnconfirmed(txid model.TxID) bool {
	_, ok := t.unconfirmed[txid]
	return ok
}

// IsConfirmed reports whether txid has a confirmed record.
func (t *Tracker) IsConfirmed(txid model.TxID) bool {
	_, ok := t.confirmed[txid]
	return ok
}

// Remove deletes both records of txid.
func (t *Tracker) Remove(txid model.TxID) {
	delete(t.unconfirmed, txid)
	delete(t.confirmed, txid)
}

// RemovePool drops pool from the records of txid, deleting a record whose
// set becomes empty.
func (t *Tracker) RemovePool(txid model.TxID, pool string) {
	for _, index := range []map[model.TxID]poolSet{t.unconfirmed, t.confirmed} {
		set, ok := index[txid]
		if !ok {
			continue
		}
		delete(set, pool)
		if len(set) == 0 {
			delete(index, txid)
		}
	}
}

// InFlight counts tracked transactions affecting pool.
func (t *Tracker) InFlight(pool string) int {
	count := 0
	for _, index := range []map[model.TxID]poolSet{t.unconfirmed, t.confirmed} {
		for _, set := range index {
			if _, ok := set[pool]; ok {
				count++
			}
		}
	}
	return count
}

// StoreBlock saves a block record, replacing any record at that height.
// It returns the replaced record when there was one.
func (t *Tracker) StoreBlock(rec model.BlockRecord) (model.BlockRecord, bool) {
	prev, ok := t.blocks[rec.Height]
	rec.ConfirmedIDs = append([]model.TxID(nil), rec.ConfirmedIDs...)
	t.blocks[rec.Height] = rec
	return prev, ok
}

// Block returns the retained record at height.
func (t *Tracker) Block(height uint64) (model.BlockRecord, bool) {
	rec, ok := t.blocks[height]
	return rec, ok
}

// BlocksAtOrBelow returns retained blocks with height <= height, ascending.
func (t *Tracker) BlocksAtOrBelow(height uint64) []model.BlockRecord {
	out := make([]model.BlockRecord, 0)
	for h, rec := range t.blocks {
		if h <= height {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// DropBlocksAtOrBelow discards retained blocks with height <= height.
func (t *Tracker) DropBlocksAtOrBelow(height uint64) int {
	dropped := 0
	for h := range t.blocks {
		if h <= height {
			delete(t.blocks, h)
			dropped++
		}
	}
	return dropped
}

// BlocksAbove returns retained blocks with height > height, ascending.
func (t *Tracker) BlocksAbove(height uint64) []model.BlockRecord {
	out := make([]model.BlockRecord, 0)
	for h, rec := range t.blocks {
		if h > height {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// DropBlocksAbove discards retained blocks with height > height.
func (t *Tracker) DropBlocksAbove(height uint64) int {
	dropped := 0
	for h := range t.blocks {
		if h > height {
			delete(t.blocks, h)
			dropped++
		}
	}
	return dropped
}

// Blocks returns every retained block, ascending by height.
func (t *Tracker) Blocks() []model.BlockRecord {
	out := make([]model.BlockRecord, 0, len(t.blocks))
	for _, rec := range t.blocks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// Records returns every track record sorted by confirmation then txid.
func (t *Tracker) Records() []model.TrackRecord {
	out := make([]model.TrackRecord, 0, len(t.unconfirmed)+len(t.confirmed))
	for txid, set := range t.unconfirmed {
		out = append(out, model.TrackRecord{TxID: txid, AffectedPools: model.SortedPools(set)})
	}
	for txid, set := range t.confirmed {
		out = append(out, model.TrackRecord{TxID: txid, Confirmed: true, AffectedPools: model.SortedPools(set)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confirmed != out[j].Confirmed {
			return !out[i].Confirmed
		}
		return out[i].TxID < out[j].TxID
	})
	return out
}

// Restore rebuilds a tracker from persisted records and blocks.
func Restore(records []model.TrackRecord, blocks []model.BlockRecord) *Tracker {
	t := New()
	for _, rec := range records {
		index := t.unconfirmed
		if rec.Confirmed {
			index = t.confirmed
		}
		set := make(poolSet, len(rec.AffectedPools))
		for _, pool := range rec.AffectedPools {
			set[pool] = struct{}{}
		}
		index[rec.TxID] = set
	}
	for _, rec := range blocks {
		t.StoreBlock(rec)
	}
	return t
}
