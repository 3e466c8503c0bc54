package model

import "time"

// LedgerSnapshot is the persisted form of one pool ledger.
type LedgerSnapshot struct {
	Address        string      `json:"address"`
	Name           string      `json:"name"`
	DerivationPath []string    `json:"derivation_path"`
	CreatedAt      time.Time   `json:"created_at"`
	States         []PoolState `json:"states"`
	TotalDeposited uint64      `json:"total_deposited"`
	TotalLiability uint64      `json:"total_liability"`
}

// EngineSnapshot is the persisted form of the state transition engine.
type EngineSnapshot struct {
	Ledgers []LedgerSnapshot `json:"ledgers"`
	Records []TrackRecord    `json:"records"`
	Blocks  []BlockRecord    `json:"blocks"`
}

// ReconcilerSnapshot is the persisted form of the deposit reconciler.
type ReconcilerSnapshot struct {
	LastNonce   uint64            `json:"last_nonce"`
	Intents     []DepositIntent   `json:"intents"`
	Liabilities []LiabilityRecord `json:"liabilities"`
	Balances    map[string]uint64 `json:"balances"`
}

// Snapshot is everything the daemon persists between restarts.
type Snapshot struct {
	Engine     EngineSnapshot     `json:"engine"`
	Reconciler ReconcilerSnapshot `json:"reconciler"`
	SavedAt    time.Time          `json:"saved_at"`
}
