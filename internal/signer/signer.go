// Package signer holds the custody keys of the pools and produces taproot
// key-spend signatures for their custody inputs.
package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"go.uber.org/zap"

	"poolKeeper/internal/engine"
	"poolKeeper/internal/txcodec"
)

var (
	ErrShortSeed     = errors.New("signer: seed too short")
	ErrBadSeed       = errors.New("signer: unusable seed")
	ErrBadPath       = errors.New("signer: invalid derivation path")
	ErrWrongKey      = errors.New("signer: custody input is not controlled by this key")
	ErrInputMismatch = errors.New("signer: request does not match transaction")
)

// Local derives one BIP32 taproot key per derivation path from a master seed.
type Local struct {
	master *hdkeychain.ExtendedKey
	params *chaincfg.Params
	logger *zap.Logger
}

func NewLocal(seed []byte, params *chaincfg.Params, logger *zap.Logger) (*Local, error) {
	if len(seed) < hdkeychain.MinSeedBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrShortSeed, len(seed), hdkeychain.MinSeedBytes)
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSeed, err)
	}
	return &Local{
		master: master,
		params: params,
		logger: logger,
	}, nil
}

// key walks path from the master key. Segments ending in ' or h are hardened;
// a leading "m" is accepted.
func (s *Local) key(path []string) (*btcec.PrivateKey, error) {
	if len(path) > 0 && path[0] == "m" {
		path = path[1:]
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadPath)
	}
	child := s.master
	for _, segment := range path {
		index, err := childIndex(segment)
		if err != nil {
			return nil, err
		}
		if child, err = child.Derive(index); err != nil {
			return nil, fmt.Errorf("derive %s: %w", segment, err)
		}
	}
	return child.ECPrivKey()
}

func childIndex(segment string) (uint32, error) {
	var offset uint32
	trimmed := strings.TrimSpace(segment)
	if strings.HasSuffix(trimmed, "'") || strings.HasSuffix(trimmed, "h") {
		trimmed = trimmed[:len(trimmed)-1]
		offset = hdkeychain.HardenedKeyStart
	}
	n, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil || uint32(n) >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("%w: segment %q", ErrBadPath, segment)
	}
	return uint32(n) + offset, nil
}

// PoolAddress returns the key-path-only taproot address of a derivation path.
func (s *Local) PoolAddress(path []string) (string, error) {
	_, addr, err := s.output(path)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (s *Local) output(path []string) ([]byte, btcutil.Address, error) {
	priv, err := s.key(path)
	if err != nil {
		return nil, nil, err
	}
	tapKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), s.params)
	if err != nil {
		return nil, nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}
	return script, addr, nil
}

// SignInput signs the custody input of a candidate built from a PSBT.
func (s *Local) SignInput(ctx context.Context, req engine.SignRequest) (engine.Witness, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(req.Candidate.Raw), false)
	if err != nil {
		return nil, fmt.Errorf("decode psbt: %w", err)
	}
	tx := packet.UnsignedTx
	if req.InputIndex < 0 || req.InputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: input %d out of range", ErrInputMismatch, req.InputIndex)
	}
	outpoint := tx.TxIn[req.InputIndex].PreviousOutPoint
	if outpoint.Hash.String() != string(req.Outpoint.TxID) || outpoint.Index != req.Outpoint.Vout {
		return nil, fmt.Errorf("%w: input %d spends %s", ErrInputMismatch, req.InputIndex, outpoint)
	}

	fetcher, err := txcodec.PrevOutFetcher(packet)
	if err != nil {
		return nil, err
	}
	prev := fetcher.FetchPrevOutput(outpoint)
	if uint64(prev.Value) != req.Value {
		return nil, fmt.Errorf("%w: custody value %d, prevout %d", ErrInputMismatch, req.Value, prev.Value)
	}

	script, _, err := s.output(req.DerivationPath)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, prev.PkScript) {
		return nil, ErrWrongKey
	}

	priv, err := s.key(req.DerivationPath)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	witness, err := txscript.TaprootWitnessSignature(
		tx, sigHashes, req.InputIndex, prev.Value, prev.PkScript,
		txscript.SigHashDefault, priv,
	)
	if err != nil {
		return nil, fmt.Errorf("taproot signature: %w", err)
	}

	s.logger.Debug("custody input signed",
		zap.String("pool", req.Pool),
		zap.String("outpoint", req.Outpoint.String()),
		zap.Int("input_index", req.InputIndex),
	)
	return engine.Witness(witness), nil
}
