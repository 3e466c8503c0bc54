package service

import "errors"

var (
	// ErrBroadcastFailed means the node refused a signed spend. The proposal
	// has been rolled back.
	ErrBroadcastFailed = errors.New("service: broadcast failed")
	// ErrNoUtxoSource is returned by audits when no node is configured.
	ErrNoUtxoSource = errors.New("service: no utxo source")
	// ErrInvalidRequest wraps malformed caller input.
	ErrInvalidRequest = errors.New("service: invalid request")
)
