package reconcile

import "errors"

var (
	ErrNoMatchingIntent  = errors.New("reconcile: no matching deposit intent")
	ErrSenderMismatch    = errors.New("reconcile: sender does not match intent")
	ErrAlreadyReconciled = errors.New("reconcile: funding transaction already reconciled")
	ErrAlreadyMinted     = errors.New("reconcile: liability already minted")
	ErrUnknownLiability  = errors.New("reconcile: unknown liability")
	ErrInvalidDeposit    = errors.New("reconcile: invalid deposit")
)
