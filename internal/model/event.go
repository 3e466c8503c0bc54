package model

import "time"

// Event kinds written to the journal.
const (
	EventProposed   = "proposed"
	EventConfirmed  = "confirmed"
	EventFinalized  = "finalized"
	EventRolledBack = "rolled_back"
	EventReconciled = "reconciled"
	EventMinted     = "minted"
)

// Event records one engine or reconciler transition.
type Event struct {
	Kind     string    `json:"kind"`
	TxID     TxID      `json:"txid,omitempty"`
	Pool     string    `json:"pool,omitempty"`
	Sequence uint64    `json:"sequence,omitempty"`
	Height   uint64    `json:"height,omitempty"`
	Amount   uint64    `json:"amount,omitempty"`
	At       time.Time `json:"at"`
}
