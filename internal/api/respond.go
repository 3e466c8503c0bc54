package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"poolKeeper/internal/engine"
	"poolKeeper/internal/reconcile"
	"poolKeeper/internal/service"
	"poolKeeper/internal/signer"
	"poolKeeper/internal/txcodec"
)

var errBadBody = errors.New("api: malformed request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrPoolBusy),
		errors.Is(err, engine.ErrStaleProposal),
		errors.Is(err, engine.ErrUtxoMismatch),
		errors.Is(err, engine.ErrPoolExists),
		errors.Is(err, reconcile.ErrAlreadyReconciled),
		errors.Is(err, reconcile.ErrAlreadyMinted):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownPool),
		errors.Is(err, reconcile.ErrNoMatchingIntent),
		errors.Is(err, reconcile.ErrUnknownLiability):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoCustodyOutput),
		errors.Is(err, engine.ErrInvalidCandidate),
		errors.Is(err, reconcile.ErrSenderMismatch),
		errors.Is(err, reconcile.ErrInvalidDeposit),
		errors.Is(err, txcodec.ErrDecode),
		errors.Is(err, txcodec.ErrMissingPrevout),
		errors.Is(err, txcodec.ErrBadWitness),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, signer.ErrBadPath),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSigningFailed),
		errors.Is(err, service.ErrBroadcastFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrNoUtxoSource):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	return nil
}
