// Package reconcile turns observed funding transactions into liability
// records and tracks the mint obligations they create.
package reconcile

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolKeeper/internal/metrics"
	"poolKeeper/internal/model"
)

const (
	DefaultMinDeposit     = 50_000
	DefaultMaxDeposit     = 35_000_000
	DefaultProtocolFeeBps = 200
)

// PoolBook is the part of the engine the reconciler credits.
type PoolBook interface {
	PoolInfo(address string) (model.PoolInfo, error)
	CreditPool(address string, deposited, liability uint64) error
}

// EventSink receives reconciler transitions.
type EventSink interface {
	PutEvents(events []model.Event) error
}

// Config controls deposit limits and the liability rate.
type Config struct {
	// RateNum/RateDen is the liability issued per deposited sat.
	RateNum        uint64
	RateDen        uint64
	MinDeposit     uint64
	MaxDeposit     uint64
	ProtocolFeeBps uint64
	Events         EventSink
	Now            func() time.Time
}

type Reconciler struct {
	cfg    Config
	logger *zap.Logger
	pools  PoolBook

	mu          sync.Mutex
	lastNonce   uint64
	intents     map[uint64]model.DepositIntent
	liabilities map[model.TxID]model.LiabilityRecord
	balances    map[string]uint64
}

func New(cfg Config, pools PoolBook, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateNum == 0 || cfg.RateDen == 0 {
		cfg.RateNum, cfg.RateDen = 1, 1
	}
	if cfg.MinDeposit == 0 {
		cfg.MinDeposit = DefaultMinDeposit
	}
	if cfg.MaxDeposit == 0 {
		cfg.MaxDeposit = DefaultMaxDeposit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	metrics.Init()

	return &Reconciler{
		cfg:         cfg,
		logger:      logger,
		pools:       pools,
		intents:     make(map[uint64]model.DepositIntent),
		liabilities: make(map[model.TxID]model.LiabilityRecord),
		balances:    make(map[string]uint64),
	}
}

// RecordIntent stores a deposit intent and returns its nonce.
func (r *Reconciler) RecordIntent(depositor, pool string, amount uint64) (uint64, error) {
	if depositor == "" || pool == "" {
		return 0, fmt.Errorf("%w: depositor and pool are required", ErrInvalidDeposit)
	}
	if r.pools != nil {
		if _, err := r.pools.PoolInfo(pool); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	intent := r.recordLocked(depositor, pool, amount)
	return intent.Nonce, nil
}

// PreDeposit validates a deposit amount, records the intent and returns the
// offer the depositor funds against.
func (r *Reconciler) PreDeposit(depositor, pool string, amount uint64, feeRate float64) (model.DepositOffer, error) {
	if depositor == "" || pool == "" {
		return model.DepositOffer{}, fmt.Errorf("%w: depositor and pool are required", ErrInvalidDeposit)
	}
	if amount < r.cfg.MinDeposit {
		return model.DepositOffer{}, fmt.Errorf("%w: minimum deposit is %d sats", ErrInvalidDeposit, r.cfg.MinDeposit)
	}
	if amount > r.cfg.MaxDeposit {
		return model.DepositOffer{}, fmt.Errorf("%w: maximum deposit is %d sats", ErrInvalidDeposit, r.cfg.MaxDeposit)
	}

	var info model.PoolInfo
	if r.pools != nil {
		var err error
		if info, err = r.pools.PoolInfo(pool); err != nil {
			return model.DepositOffer{}, err
		}
	}

	r.mu.Lock()
	intent := r.recordLocked(depositor, pool, amount)
	r.mu.Unlock()

	offer := model.DepositOffer{
		PoolAddress:       pool,
		Nonce:             intent.Nonce,
		Amount:            amount,
		ExpectedLiability: r.liability(amount),
		ProtocolFee:       amount * r.cfg.ProtocolFeeBps / 10_000,
		PoolSequence:      info.Sequence,
		FeeRate:           feeRate,
	}
	if info.Custody != nil {
		offer.PoolUtxoTxID = info.Custody.Outpoint.TxID
		offer.PoolUtxoVout = info.Custody.Outpoint.Vout
		offer.PoolUtxoAmount = info.Custody.Value
	}
	return offer, nil
}

func (r *Reconciler) recordLocked(depositor, pool string, amount uint64) model.DepositIntent {
	now := r.cfg.Now().UTC()
	nonce := uint64(now.UnixMilli())
	if nonce <= r.lastNonce {
		nonce = r.lastNonce + 1
	}
	r.lastNonce = nonce

	intent := model.DepositIntent{
		Nonce:            nonce,
		DepositorAddress: depositor,
		PoolAddress:      pool,
		Amount:           amount,
		CreatedAt:        now,
	}
	r.intents[nonce] = intent

	r.logger.Info("deposit intent recorded",
		zap.Uint64("nonce", nonce),
		zap.String("depositor", depositor),
		zap.String("pool", pool),
		zap.Uint64("amount", amount),
	)
	return intent
}

// Reconcile consumes the intent behind a funding transaction and records
// the liability it creates.
func (r *Reconciler) Reconcile(fundingTx model.TxID, nonce, observedAmount uint64, observedSender string) (model.LiabilityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.logger.With(zap.String("funding_tx", string(fundingTx)), zap.Uint64("nonce", nonce))

	if _, ok := r.liabilities[fundingTx]; ok {
		metrics.Reconciliations.WithLabelValues("replay").Inc()
		logger.Warn("funding transaction replayed")
		return model.LiabilityRecord{}, fmt.Errorf("%w: %s", ErrAlreadyReconciled, fundingTx)
	}
	intent, ok := r.intents[nonce]
	if !ok {
		metrics.Reconciliations.WithLabelValues("no_intent").Inc()
		return model.LiabilityRecord{}, fmt.Errorf("%w: nonce %d", ErrNoMatchingIntent, nonce)
	}
	if intent.DepositorAddress != observedSender {
		metrics.Reconciliations.WithLabelValues("sender_mismatch").Inc()
		logger.Warn("deposit sender mismatch",
			zap.String("expected", intent.DepositorAddress),
			zap.String("observed", observedSender),
		)
		return model.LiabilityRecord{}, fmt.Errorf("%w: expected %s, got %s", ErrSenderMismatch, intent.DepositorAddress, observedSender)
	}

	liability := r.liability(observedAmount)
	if r.pools != nil {
		if err := r.pools.CreditPool(intent.PoolAddress, observedAmount, liability); err != nil {
			metrics.Reconciliations.WithLabelValues("error").Inc()
			return model.LiabilityRecord{}, err
		}
	}

	now := r.cfg.Now().UTC()
	record := model.LiabilityRecord{
		FundingTx:        fundingTx,
		DepositorAddress: intent.DepositorAddress,
		PoolAddress:      intent.PoolAddress,
		LiabilityAmount:  liability,
		FundingAmount:    observedAmount,
		Nonce:            nonce,
		CreatedAt:        now,
	}
	r.liabilities[fundingTx] = record
	r.balances[intent.DepositorAddress] += liability
	delete(r.intents, nonce)

	metrics.Reconciliations.WithLabelValues("applied").Inc()
	logger.Info("deposit reconciled",
		zap.String("depositor", intent.DepositorAddress),
		zap.String("pool", intent.PoolAddress),
		zap.Uint64("funding_amount", observedAmount),
		zap.Uint64("liability", liability),
	)
	r.emit(model.Event{Kind: model.EventReconciled, TxID: fundingTx, Pool: intent.PoolAddress, Amount: liability, At: now})

	return record, nil
}

// MarkMinted records the transaction that fulfilled a mint obligation.
func (r *Reconciler) MarkMinted(fundingTx, mintTx model.TxID) error {
	if mintTx == "" {
		return fmt.Errorf("%w: mint transaction is required", ErrInvalidDeposit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.liabilities[fundingTx]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLiability, fundingTx)
	}
	if record.Minted() {
		return fmt.Errorf("%w: %s by %s", ErrAlreadyMinted, fundingTx, record.MintTx)
	}
	record.MintTx = mintTx
	r.liabilities[fundingTx] = record

	r.logger.Info("liability minted", zap.String("funding_tx", string(fundingTx)), zap.String("mint_tx", string(mintTx)))
	r.emit(model.Event{Kind: model.EventMinted, TxID: mintTx, Pool: record.PoolAddress, Amount: record.LiabilityAmount, At: r.cfg.Now().UTC()})
	return nil
}

// PendingMints returns liabilities that have not been minted, oldest first.
func (r *Reconciler) PendingMints() []model.LiabilityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.LiabilityRecord, 0)
	for _, record := range r.liabilities {
		if !record.Minted() {
			out = append(out, record)
		}
	}
	sortLiabilities(out)
	return out
}

// Liability returns the record created by a funding transaction.
func (r *Reconciler) Liability(fundingTx model.TxID) (model.LiabilityRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.liabilities[fundingTx]
	return record, ok
}

// Intent returns a pending deposit intent.
func (r *Reconciler) Intent(nonce uint64) (model.DepositIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[nonce]
	return intent, ok
}

// Balance returns the liability credited to a depositor.
func (r *Reconciler) Balance(address string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[address]
}

// Snapshot returns the persisted form of the reconciler.
func (r *Reconciler) Snapshot() model.ReconcilerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := model.ReconcilerSnapshot{
		LastNonce:   r.lastNonce,
		Intents:     make([]model.DepositIntent, 0, len(r.intents)),
		Liabilities: make([]model.LiabilityRecord, 0, len(r.liabilities)),
		Balances:    make(map[string]uint64, len(r.balances)),
	}
	for _, intent := range r.intents {
		snap.Intents = append(snap.Intents, intent)
	}
	sort.Slice(snap.Intents, func(i, j int) bool { return snap.Intents[i].Nonce < snap.Intents[j].Nonce })
	for _, record := range r.liabilities {
		snap.Liabilities = append(snap.Liabilities, record)
	}
	sortLiabilities(snap.Liabilities)
	for address, balance := range r.balances {
		snap.Balances[address] = balance
	}
	return snap
}

// Restore replaces the reconciler state with a persisted snapshot.
func (r *Reconciler) Restore(snap model.ReconcilerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastNonce = snap.LastNonce
	r.intents = make(map[uint64]model.DepositIntent, len(snap.Intents))
	for _, intent := range snap.Intents {
		r.intents[intent.Nonce] = intent
		if intent.Nonce > r.lastNonce {
			r.lastNonce = intent.Nonce
		}
	}
	r.liabilities = make(map[model.TxID]model.LiabilityRecord, len(snap.Liabilities))
	for _, record := range snap.Liabilities {
		r.liabilities[record.FundingTx] = record
	}
	r.balances = make(map[string]uint64, len(snap.Balances))
	for address, balance := range snap.Balances {
		r.balances[address] = balance
	}
}

// liability scales amount by the rate in 128-bit precision, saturating when
// the quotient does not fit in 64 bits.
func (r *Reconciler) liability(amount uint64) uint64 {
	hi, lo := bits.Mul64(amount, r.cfg.RateNum)
	if hi >= r.cfg.RateDen {
		return math.MaxUint64
	}
	quo, _ := bits.Div64(hi, lo, r.cfg.RateDen)
	return quo
}

func (r *Reconciler) emit(ev model.Event) {
	if r.cfg.Events == nil {
		return
	}
	if err := r.cfg.Events.PutEvents([]model.Event{ev}); err != nil {
		r.logger.Warn("journal events", zap.Error(err))
	}
}

func sortLiabilities(records []model.LiabilityRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].FundingTx < records[j].FundingTx
	})
}
