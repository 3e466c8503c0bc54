package model

import "time"

// DepositIntent is a depositor's announced deposit, keyed by nonce.
type DepositIntent struct {
	Nonce            uint64    `json:"nonce"`
	DepositorAddress string    `json:"depositor_address"`
	PoolAddress      string    `json:"pool_address"`
	Amount           uint64    `json:"amount"`
	CreatedAt        time.Time `json:"created_at"`
}

// LiabilityRecord is the mint record created when a funding transaction is
// reconciled. MintTx is set once the liability has been minted.
type LiabilityRecord struct {
	FundingTx        TxID      `json:"funding_tx"`
	DepositorAddress string    `json:"depositor_address"`
	PoolAddress      string    `json:"pool_address"`
	LiabilityAmount  uint64    `json:"liability_amount"`
	FundingAmount    uint64    `json:"funding_amount"`
	Nonce            uint64    `json:"nonce"`
	CreatedAt        time.Time `json:"created_at"`
	MintTx           TxID      `json:"mint_tx,omitempty"`
}

// Minted reports whether the mint obligation was fulfilled.
func (r LiabilityRecord) Minted() bool {
	return r.MintTx != ""
}

// DepositOffer is returned to a depositor before funding.
type DepositOffer struct {
	PoolAddress       string  `json:"pool_address"`
	Nonce             uint64  `json:"nonce"`
	Amount            uint64  `json:"amount"`
	ExpectedLiability uint64  `json:"expected_liability"`
	ProtocolFee       uint64  `json:"protocol_fee"`
	PoolUtxoTxID      TxID    `json:"pool_utxo_txid,omitempty"`
	PoolUtxoVout      uint32  `json:"pool_utxo_vout"`
	PoolUtxoAmount    uint64  `json:"pool_utxo_amount_sats"`
	PoolSequence      uint64  `json:"pool_sequence"`
	FeeRate           float64 `json:"fee_rate"`
}
