// Package txcodec converts PSBTs into engine candidates and assembles the
// final transaction once the custody input is signed.
package txcodec

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"poolKeeper/internal/model"
)

var (
	ErrDecode         = errors.New("txcodec: cannot decode psbt")
	ErrMissingPrevout = errors.New("txcodec: input has no previous output")
	ErrBadWitness     = errors.New("txcodec: unsupported custody witness")
)

// Params maps a network name to its chain parameters.
func Params(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

type Codec struct {
	params *chaincfg.Params
}

func New(params *chaincfg.Params) *Codec {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Codec{params: params}
}

func (c *Codec) Params() *chaincfg.Params {
	return c.params
}

// Decode parses a base64 or hex encoded PSBT and derives the candidate the
// engine validates.
func (c *Codec) Decode(encoded string) (model.Candidate, *psbt.Packet, error) {
	packet, err := ParsePSBT(encoded)
	if err != nil {
		return model.Candidate{}, nil, err
	}
	candidate, err := c.Candidate(packet)
	if err != nil {
		return model.Candidate{}, nil, err
	}
	return candidate, packet, nil
}

// ParsePSBT accepts the base64 form used by wallets or raw hex.
func ParsePSBT(encoded string) (*psbt.Packet, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty", ErrDecode)
	}
	if raw, err := hex.DecodeString(encoded); err == nil {
		packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return packet, nil
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		return nil, fmt.Errorf("%w: neither hex nor base64", ErrDecode)
	}
	packet, err := psbt.NewFromRawBytes(strings.NewReader(encoded), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return packet, nil
}

// Candidate lists the inputs and outputs of the unsigned transaction with
// their addresses resolved on the codec network.
func (c *Codec) Candidate(packet *psbt.Packet) (model.Candidate, error) {
	tx := packet.UnsignedTx
	candidate := model.Candidate{
		ID:      model.TxID(tx.TxHash().String()),
		Inputs:  make([]model.CandidateInput, 0, len(tx.TxIn)),
		Outputs: make([]model.TxOutput, 0, len(tx.TxOut)),
	}

	for i, txIn := range tx.TxIn {
		in := model.CandidateInput{
			Outpoint: model.Outpoint{
				TxID: model.TxID(txIn.PreviousOutPoint.Hash.String()),
				Vout: txIn.PreviousOutPoint.Index,
			},
		}
		if prev := prevOutput(packet, i); prev != nil {
			in.Address = c.Address(prev.PkScript)
			in.Value = uint64(prev.Value)
		}
		candidate.Inputs = append(candidate.Inputs, in)
	}
	for _, out := range tx.TxOut {
		candidate.Outputs = append(candidate.Outputs, model.TxOutput{
			Address: c.Address(out.PkScript),
			Value:   uint64(out.Value),
		})
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return model.Candidate{}, fmt.Errorf("serialize psbt: %w", err)
	}
	candidate.Raw = buf.Bytes()
	return candidate, nil
}

// Address returns the single address a script pays to, or "" for scripts
// without one (OP_RETURN, bare multisig).
func (c *Codec) Address(pkScript []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, c.params)
	if err != nil || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

// PrevOutFetcher collects the previous outputs of every input, as required
// for taproot signature hashes.
func PrevOutFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		prev := prevOutput(packet, i)
		if prev == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingPrevout, i)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prev)
	}
	return fetcher, nil
}

func prevOutput(packet *psbt.Packet, idx int) *wire.TxOut {
	if idx >= len(packet.Inputs) {
		return nil
	}
	in := packet.Inputs[idx]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo
	}
	if in.NonWitnessUtxo != nil {
		vout := packet.UnsignedTx.TxIn[idx].PreviousOutPoint.Index
		if int(vout) < len(in.NonWitnessUtxo.TxOut) {
			return in.NonWitnessUtxo.TxOut[vout]
		}
	}
	return nil
}

// Finalize attaches the custody key-spend signature, finalizes every input
// and extracts the network transaction. Inputs other than the custody one
// must already carry their final witnesses.
func Finalize(packet *psbt.Packet, inputIndex int, witness [][]byte) (*wire.MsgTx, error) {
	if inputIndex >= 0 {
		if inputIndex >= len(packet.Inputs) {
			return nil, fmt.Errorf("%w: input %d out of range", ErrBadWitness, inputIndex)
		}
		if len(witness) != 1 {
			return nil, fmt.Errorf("%w: expected one key-spend signature, got %d items", ErrBadWitness, len(witness))
		}
		packet.Inputs[inputIndex].TaprootKeySpendSig = witness[0]
	}
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("finalize psbt: %w", err)
	}
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("extract transaction: %w", err)
	}
	return tx, nil
}

// EncodeTx returns the hex serialization broadcast to the node.
func EncodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
