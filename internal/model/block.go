package model

// BlockRecord is a block retained until its transactions are finalized.
type BlockRecord struct {
	Height       uint64 `json:"height"`
	Hash         string `json:"hash"`
	Timestamp    uint64 `json:"timestamp"`
	ConfirmedIDs []TxID `json:"confirmed_txids"`
}

// BlockInfo is a block as reported by the node.
type BlockInfo struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"previousblockhash"`
	Timestamp uint64 `json:"time"`
	TxIDs     []TxID `json:"tx"`
}
