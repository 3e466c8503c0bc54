package engine

import "errors"

var (
	// ErrPoolBusy indicates another proposal holds the pool's execution guard.
	ErrPoolBusy = errors.New("engine: pool busy")
	// ErrStaleProposal indicates the claimed sequence is not the ledger head.
	ErrStaleProposal = errors.New("engine: stale proposal")
	// ErrUtxoMismatch indicates the candidate does not spend the head custody UTXO.
	ErrUtxoMismatch = errors.New("engine: custody utxo mismatch")
	// ErrNoCustodyOutput indicates no candidate output pays the pool address.
	ErrNoCustodyOutput = errors.New("engine: no custody output")
	// ErrSigningFailed indicates the custody signature could not be produced.
	ErrSigningFailed = errors.New("engine: signing failed")
	// ErrUnknownPool indicates the pool address is not registered.
	ErrUnknownPool = errors.New("engine: unknown pool")
	// ErrPoolExists indicates the pool address is already registered.
	ErrPoolExists = errors.New("engine: pool already registered")
	// ErrInvalidCandidate indicates the candidate lacks a transaction id.
	ErrInvalidCandidate = errors.New("engine: invalid candidate")
)
