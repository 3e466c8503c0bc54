package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TxID is a transaction id in its usual hex (display) byte order.
type TxID string

// Outpoint identifies a transaction output.
type Outpoint struct {
	TxID TxID   `json:"txid"`
	Vout uint32 `json:"vout"`
}

// String renders the outpoint as "txid:vout".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// ParseOutpoint parses a "txid:vout" string.
func ParseOutpoint(input string) (Outpoint, error) {
	input = strings.TrimSpace(input)
	idx := strings.LastIndex(input, ":")
	if idx <= 0 || idx == len(input)-1 {
		return Outpoint{}, fmt.Errorf("invalid outpoint: %s", input)
	}
	vout, err := strconv.ParseUint(input[idx+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint vout: %s", input)
	}
	return Outpoint{TxID: TxID(input[:idx]), Vout: uint32(vout)}, nil
}

// Utxo is an unspent output and its value in satoshis.
type Utxo struct {
	Outpoint Outpoint `json:"outpoint"`
	Value    uint64   `json:"value"`
}

// PoolState is the custody of a pool at one point of its history.
// The genesis state has no creating transaction and no custody.
type PoolState struct {
	CreatingTx TxID   `json:"creating_tx,omitempty"`
	Sequence   uint64 `json:"sequence"`
	Custody    *Utxo  `json:"custody_utxo,omitempty"`
}

// Genesis reports whether the state is the implicit initial state.
func (s PoolState) Genesis() bool {
	return s.CreatingTx == ""
}

// CustodyValue returns the custodied value, or zero when there is none.
func (s PoolState) CustodyValue() uint64 {
	if s.Custody == nil {
		return 0
	}
	return s.Custody.Value
}

// Clone returns a copy that shares no memory with s.
func (s PoolState) Clone() PoolState {
	out := s
	if s.Custody != nil {
		utxo := *s.Custody
		out.Custody = &utxo
	}
	return out
}
