package engine

import (
	"fmt"
	"sort"

	"poolKeeper/internal/model"
)

// PoolList returns every registered pool ordered by address.
func (e *PoolEngine) PoolList() []model.PoolBasic {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.PoolBasic, 0, len(e.ledgers))
	for _, address := range e.sortedAddresses() {
		out = append(out, model.PoolBasic{Name: e.ledgers[address].Name, Address: address})
	}
	return out
}

// PoolInfo describes the current custody of a pool.
func (e *PoolEngine) PoolInfo(address string) (model.PoolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return model.PoolInfo{}, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	head := l.Head()
	return model.PoolInfo{
		Name:           l.Name,
		Address:        l.Address,
		DerivationPath: append([]string(nil), l.DerivationPath...),
		Sequence:       head.Sequence,
		Custody:        head.Custody,
		Reserved:       l.TotalCustodied(),
		CreatedAt:      l.CreatedAt,
	}, nil
}

// Stats aggregates the counters of a pool.
func (e *PoolEngine) Stats(address string) (model.PoolStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return model.PoolStats{}, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	return model.PoolStats{
		Address:        address,
		TVL:            l.TotalCustodied(),
		TotalDeposited: l.TotalDeposited(),
		TotalLiability: l.TotalLiability(),
		StateDepth:     l.Len(),
		HeadSequence:   l.Head().Sequence,
		InFlight:       e.tracker.InFlight(address),
	}, nil
}

// Head returns the current custody state of a pool.
func (e *PoolEngine) Head(address string) (model.PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return model.PoolState{}, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	return l.Head(), nil
}

// States returns the retained states of a pool, oldest first.
func (e *PoolEngine) States(address string) ([]model.PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	return l.States(), nil
}

// TotalCustodied returns the head custody value of a pool.
func (e *PoolEngine) TotalCustodied(address string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	return l.TotalCustodied(), nil
}

// Records returns every tracked transaction.
func (e *PoolEngine) Records() []model.TrackRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Records()
}

// Block returns the retained block record at height.
func (e *PoolEngine) Block(height uint64) (model.BlockRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Block(height)
}

// Busy reports whether a proposal currently holds the pool's guard.
func (e *PoolEngine) Busy(address string) bool {
	return e.guard.Held(address)
}

func (e *PoolEngine) sortedAddresses() []string {
	out := make([]string, 0, len(e.ledgers))
	for address := range e.ledgers {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}
