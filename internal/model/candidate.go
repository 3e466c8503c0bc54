package model

// CandidateInput is an input of a proposed transaction. Address and Value
// describe the output being spent when the proposer supplied them.
type CandidateInput struct {
	Outpoint Outpoint `json:"outpoint"`
	Address  string   `json:"address,omitempty"`
	Value    uint64   `json:"value,omitempty"`
}

// TxOutput is an output of a proposed transaction. Address is empty for
// scripts without a standard address (OP_RETURN, bare multisig).
type TxOutput struct {
	Address string `json:"address,omitempty"`
	Value   uint64 `json:"value"`
}

// Candidate is a structurally valid transaction proposed against a pool.
// Raw carries the encoded PSBT the signer works from.
type Candidate struct {
	ID      TxID             `json:"txid"`
	Inputs  []CandidateInput `json:"inputs"`
	Outputs []TxOutput       `json:"outputs"`
	Raw     []byte           `json:"-"`
}

// InputIndex returns the index of the input spending op, or -1.
func (c Candidate) InputIndex(op Outpoint) int {
	for i, in := range c.Inputs {
		if in.Outpoint == op {
			return i
		}
	}
	return -1
}
