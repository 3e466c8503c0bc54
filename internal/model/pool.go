package model

import "time"

// PoolBasic is the list entry for a registered pool.
type PoolBasic struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PoolInfo describes the current custody of a pool.
type PoolInfo struct {
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	DerivationPath []string  `json:"key_derivation_path"`
	Sequence       uint64    `json:"nonce"`
	Custody        *Utxo     `json:"custody_utxo,omitempty"`
	Reserved       uint64    `json:"btc_reserved"`
	CreatedAt      time.Time `json:"created_at"`
}

// PoolStats aggregates pool-level counters.
type PoolStats struct {
	Address        string `json:"pool_address"`
	TVL            uint64 `json:"tvl_sats"`
	TotalDeposited uint64 `json:"total_deposited_sats"`
	TotalLiability uint64 `json:"total_liability"`
	StateDepth     int    `json:"state_depth"`
	HeadSequence   uint64 `json:"head_sequence"`
	InFlight       int    `json:"in_flight"`
}
