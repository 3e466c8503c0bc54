package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"poolKeeper/internal/model"
)

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.PoolList())
}

func (s *Server) initPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string   `json:"name"`
		DerivationPath []string `json:"derivation_path"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.backend.InitPool(r.Context(), strings.TrimSpace(req.Name), req.DerivationPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) poolInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.PoolInfo(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) poolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Stats(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) poolStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.backend.States(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) auditPool(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.AuditPool(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) minimalTxValue(w http.ResponseWriter, r *http.Request) {
	queue := 0
	if raw := r.URL.Query().Get("queue"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: queue: %w", errBadBody, err))
			return
		}
		queue = n
	}
	value, err := s.backend.MinimalTxValue(r.Context(), chi.URLParam(r, "address"), queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"minimal_tx_value": value})
}

func (s *Server) submitSpend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PSBT            string `json:"psbt"`
		ClaimedSequence uint64 `json:"claimed_sequence"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pool := chi.URLParam(r, "address")
	result, err := s.backend.SubmitSpend(r.Context(), req.PSBT, req.ClaimedSequence, pool)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			s.logger.Warn("spend failed", zap.String("pool", pool), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type depositRequest struct {
	Depositor string `json:"depositor_address"`
	Pool      string `json:"pool_address"`
	Amount    uint64 `json:"amount"`
}

func (s *Server) recordIntent(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	nonce, err := s.backend.RecordIntent(r.Context(), req.Depositor, req.Pool, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"nonce": nonce})
}

func (s *Server) preDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.backend.PreDeposit(r.Context(), req.Depositor, req.Pool, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FundingTx model.TxID `json:"funding_tx"`
		Nonce     uint64     `json:"nonce"`
		Amount    uint64     `json:"amount"`
		Sender    string     `json:"sender"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.backend.Reconcile(r.Context(), req.FundingTx, req.Nonce, req.Amount, req.Sender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) pendingMints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.PendingMints())
}

func (s *Server) markMinted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MintTx model.TxID `json:"mint_tx"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.MarkMinted(r.Context(), model.TxID(chi.URLParam(r, "fundingTx")), req.MintTx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": s.backend.Balance(address),
	})
}

func (s *Server) feeRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"fee_rate": s.backend.FeeRate(r.Context())})
}

func (s *Server) newBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Height    uint64       `json:"height"`
		Hash      string       `json:"hash"`
		Timestamp uint64       `json:"timestamp"`
		TxIDs     []model.TxID `json:"txids"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Hash == "" {
		writeError(w, fmt.Errorf("%w: block hash required", errBadBody))
		return
	}
	s.backend.OnNewBlock(req.Height, req.Hash, req.Timestamp, req.TxIDs)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxID model.TxID `json:"txid"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TxID == "" {
		writeError(w, fmt.Errorf("%w: txid required", errBadBody))
		return
	}
	s.backend.OnRollback(req.TxID)
	w.WriteHeader(http.StatusAccepted)
}
