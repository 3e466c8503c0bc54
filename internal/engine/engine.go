// Package engine advances, finalizes and rolls back pool custody ledgers
// as spends are proposed and the chain confirms or evicts them.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolKeeper/internal/guard"
	"poolKeeper/internal/ledger"
	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
	"poolKeeper/internal/tracker"
)

// DefaultFinalityDepth is the number of confirmations after which a
// transaction is treated as irreversible.
const DefaultFinalityDepth = 6

// Witness is the witness stack produced for a custody input.
type Witness [][]byte

// SignRequest asks for a custody signature over one input of a candidate.
type SignRequest struct {
	Pool           string
	DerivationPath []string
	Outpoint       model.Outpoint
	Value          uint64
	InputIndex     int
	Candidate      model.Candidate
}

// Signer produces custody signatures.
type Signer interface {
	SignInput(ctx context.Context, req SignRequest) (Witness, error)
}

// EventSink receives engine transitions after they are applied.
type EventSink interface {
	PutEvents(events []model.Event) error
}

// Config controls engine behavior.
type Config struct {
	FinalityDepth uint64
	Signer        Signer
	Events        EventSink
	Now           func() time.Time
}

// PoolEngine owns the ledgers of every registered pool, the transaction
// tracker and the execution guard.
type PoolEngine struct {
	cfg    Config
	logger *zap.Logger
	guard  *guard.ExecutionGuard

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger
	tracker *tracker.Tracker
}

func New(cfg Config, logger *zap.Logger) *PoolEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FinalityDepth == 0 {
		cfg.FinalityDepth = DefaultFinalityDepth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	metrics.Init()

	return &PoolEngine{
		cfg:     cfg,
		logger:  logger,
		guard:   guard.New(),
		ledgers: make(map[string]*ledger.Ledger),
		tracker: tracker.New(),
	}
}

// FinalityDepth returns the configured confirmation depth.
func (e *PoolEngine) FinalityDepth() uint64 {
	return e.cfg.FinalityDepth
}

// RegisterPool creates the ledger of a pool with its genesis state.
func (e *PoolEngine) RegisterPool(address, name string, derivationPath []string) error {
	if address == "" {
		return fmt.Errorf("pool address is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ledgers[address]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, address)
	}
	l := ledger.New(address, name, derivationPath, e.cfg.Now().UTC())
	e.ledgers[address] = l
	e.observe(l)

	e.logger.Info("pool registered", zap.String("pool", address), zap.String("name", name))
	return nil
}

// CreditPool adds a reconciled deposit to the pool aggregates.
func (e *PoolEngine) CreditPool(address string, deposited, liability uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	l.Credit(deposited, liability)
	return nil
}

// Snapshot returns the persisted form of the engine state.
func (e *PoolEngine) Snapshot() model.EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := model.EngineSnapshot{
		Ledgers: make([]model.LedgerSnapshot, 0, len(e.ledgers)),
		Records: e.tracker.Records(),
		Blocks:  e.tracker.Blocks(),
	}
	for _, address := range e.sortedAddresses() {
		snap.Ledgers = append(snap.Ledgers, e.ledgers[address].Snapshot())
	}
	return snap
}

// Restore replaces the engine state with a persisted snapshot.
func (e *PoolEngine) Restore(snap model.EngineSnapshot) error {
	ledgers := make(map[string]*ledger.Ledger, len(snap.Ledgers))
	for _, ls := range snap.Ledgers {
		l, err := ledger.Restore(ls)
		if err != nil {
			return err
		}
		ledgers[l.Address] = l
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledgers = ledgers
	e.tracker = tracker.Restore(snap.Records, snap.Blocks)
	for _, l := range e.ledgers {
		e.observe(l)
	}

	e.logger.Info("engine restored",
		zap.Int("pools", len(snap.Ledgers)),
		zap.Int("records", len(snap.Records)),
		zap.Int("blocks", len(snap.Blocks)),
	)
	return nil
}

func (e *PoolEngine) observe(l *ledger.Ledger) {
	metrics.PoolDepth.WithLabelValues(l.Address).Set(float64(l.Len()))
	metrics.PoolCustody.WithLabelValues(l.Address).Set(float64(l.TotalCustodied()))
}

func (e *PoolEngine) emit(events []model.Event) {
	if e.cfg.Events == nil || len(events) == 0 {
		return
	}
	if err := e.cfg.Events.PutEvents(events); err != nil {
		e.logger.Warn("journal events", zap.Error(err), zap.Int("events", len(events)))
	}
}
