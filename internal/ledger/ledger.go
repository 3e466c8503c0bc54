// Package ledger keeps the ordered custody history of a single pool.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"poolKeeper/internal/model"
)

var (
	// ErrSequenceGap is returned when a pushed state does not extend the head.
	ErrSequenceGap = errors.New("ledger: sequence gap")
	// ErrMissingCreator is returned when a non-genesis state has no creating tx.
	ErrMissingCreator = errors.New("ledger: state has no creating tx")
	// ErrEmpty is returned when restoring a ledger without states.
	ErrEmpty = errors.New("ledger: no states")
)

// Ledger is the chain of custody states of one pool plus its aggregates.
// It is not safe for concurrent use; the engine serializes access.
type Ledger struct {
	Address        string
	Name           string
	DerivationPath []string
	CreatedAt      time.Time

	states         []model.PoolState
	totalDeposited uint64
	totalLiability uint64
}

// New returns a ledger holding only the genesis state.
func New(address, name string, derivationPath []string, createdAt time.Time) *Ledger {
	return &Ledger{
		Address:        address,
		Name:           name,
		DerivationPath: append([]string(nil), derivationPath...),
		CreatedAt:      createdAt,
		states:         []model.PoolState{{Sequence: 0}},
	}
}

// Head returns the authoritative current custody state.
func (l *Ledger) Head() model.PoolState {
	return l.states[len(l.states)-1].Clone()
}

// Oldest returns the oldest retained state.
func (l *Ledger) Oldest() model.PoolState {
	return l.states[0].Clone()
}

// Len returns the number of retained states.
func (l *Ledger) Len() int {
	return len(l.states)
}

// States returns a copy of the retained states, oldest first.
func (l *Ledger) States() []model.PoolState {
	out := make([]model.PoolState, len(l.states))
	for i, state := range l.states {
		out[i] = state.Clone()
	}
	return out
}

// TotalCustodied is the value held by the head custody UTXO.
func (l *Ledger) TotalCustodied() uint64 {
	return l.states[len(l.states)-1].CustodyValue()
}

func (l *Ledger) TotalDeposited() uint64 { return l.totalDeposited }

func (l *Ledger) TotalLiability() uint64 { return l.totalLiability }

// Stage builds the state that would follow the head. The ledger is not
// modified until the state is passed to Push.
func (l *Ledger) Stage(txid model.TxID, custody model.Utxo) model.PoolState {
	return model.PoolState{
		CreatingTx: txid,
		Sequence:   l.states[len(l.states)-1].Sequence + 1,
		Custody:    &custody,
	}
}

// Push appends a staged state as the new head.
func (l *Ledger) Push(state model.PoolState) error {
	head := l.states[len(l.states)-1]
	if state.Sequence != head.Sequence+1 {
		return fmt.Errorf("%w: head %d, pushed %d", ErrSequenceGap, head.Sequence, state.Sequence)
	}
	if state.CreatingTx == "" {
		return ErrMissingCreator
	}
	l.states = append(l.states, state.Clone())
	return nil
}

// IndexOf returns the position of the state created by txid, or -1.
func (l *Ledger) IndexOf(txid model.TxID) int {
	if txid == "" {
		return -1
	}
	for i := len(l.states) - 1; i >= 0; i-- {
		if l.states[i].CreatingTx == txid {
			return i
		}
	}
	return -1
}

// TruncateFrom drops the state created by txid and every state after it.
// The oldest retained state is never dropped: it is either genesis or a
// finalized checkpoint. It returns the removed states.
func (l *Ledger) TruncateFrom(txid model.TxID) ([]model.PoolState, bool) {
	idx := l.IndexOf(txid)
	if idx <= 0 {
		return nil, false
	}
	removed := make([]model.PoolState, len(l.states)-idx)
	copy(removed, l.states[idx:])
	l.states = l.states[:idx:idx]
	return removed, true
}

// PruneBefore drops every state older than the one created by txid and
// returns the dropped states. The head is never pruned.
func (l *Ledger) PruneBefore(txid model.TxID) ([]model.PoolState, bool) {
	idx := l.IndexOf(txid)
	if idx < 0 {
		return nil, false
	}
	if idx == 0 {
		return nil, true
	}
	pruned := make([]model.PoolState, idx)
	copy(pruned, l.states[:idx])
	kept := make([]model.PoolState, len(l.states)-idx)
	copy(kept, l.states[idx:])
	l.states = kept
	return pruned, true
}

// Credit adds a reconciled deposit to the pool aggregates.
func (l *Ledger) Credit(deposited, liability uint64) {
	l.totalDeposited += deposited
	l.totalLiability += liability
}

// Validate checks the contiguous sequence invariant.
func (l *Ledger) Validate() error {
	return validateStates(l.states)
}

// Snapshot returns the persisted form of the ledger.
func (l *Ledger) Snapshot() model.LedgerSnapshot {
	return model.LedgerSnapshot{
		Address:        l.Address,
		Name:           l.Name,
		DerivationPath: append([]string(nil), l.DerivationPath...),
		CreatedAt:      l.CreatedAt,
		States:         l.States(),
		TotalDeposited: l.totalDeposited,
		TotalLiability: l.totalLiability,
	}
}

// Restore rebuilds a ledger from its persisted form.
func Restore(snap model.LedgerSnapshot) (*Ledger, error) {
	if err := validateStates(snap.States); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.Address, err)
	}
	states := make([]model.PoolState, len(snap.States))
	for i, state := range snap.States {
		states[i] = state.Clone()
	}
	return &Ledger{
		Address:        snap.Address,
		Name:           snap.Name,
		DerivationPath: append([]string(nil), snap.DerivationPath...),
		CreatedAt:      snap.CreatedAt,
		states:         states,
		totalDeposited: snap.TotalDeposited,
		totalLiability: snap.TotalLiability,
	}, nil
}

func validateStates(states []model.PoolState) error {
	if len(states) == 0 {
		return ErrEmpty
	}
	for i := 1; i < len(states); i++ {
		if states[i].Sequence != states[i-1].Sequence+1 {
			return fmt.Errorf("%w: %d follows %d", ErrSequenceGap, states[i].Sequence, states[i-1].Sequence)
		}
		if states[i].CreatingTx == "" {
			return fmt.Errorf("%w: sequence %d", ErrMissingCreator, states[i].Sequence)
		}
	}
	return nil
}
