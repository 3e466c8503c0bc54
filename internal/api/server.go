// Package api exposes the daemon entry points over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolKeeper/internal/model"
	"poolKeeper/internal/service"
)

const maxBodyBytes = 1 << 20

// Backend is the set of service operations the API serves.
type Backend interface {
	InitPool(ctx context.Context, name string, path []string) (model.PoolInfo, error)
	PoolList() []model.PoolBasic
	PoolInfo(address string) (model.PoolInfo, error)
	Stats(address string) (model.PoolStats, error)
	States(address string) ([]model.PoolState, error)
	AuditPool(ctx context.Context, pool string) (service.AuditReport, error)
	MinimalTxValue(ctx context.Context, pool string, queueLength int) (uint64, error)
	SubmitSpend(ctx context.Context, encoded string, claimedSequence uint64, pool string) (service.SpendResult, error)
	OnNewBlock(height uint64, hash string, timestamp uint64, confirmedIDs []model.TxID)
	OnRollback(txid model.TxID)
	RecordIntent(ctx context.Context, depositor, pool string, amount uint64) (uint64, error)
	PreDeposit(ctx context.Context, depositor, pool string, amount uint64) (model.DepositOffer, error)
	Reconcile(ctx context.Context, fundingTx model.TxID, nonce, observedAmount uint64, observedSender string) (model.LiabilityRecord, error)
	MarkMinted(ctx context.Context, fundingTx, mintTx model.TxID) error
	PendingMints() []model.LiabilityRecord
	Balance(address string) uint64
	FeeRate(ctx context.Context) float64
}

type Server struct {
	backend Backend
	logger  *zap.Logger
	router  http.Handler
}

func New(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{backend: backend, logger: logger}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/pools", s.listPools)
		v1.Post("/pools", s.initPool)
		v1.Route("/pools/{address}", func(pool chi.Router) {
			pool.Get("/", s.poolInfo)
			pool.Get("/stats", s.poolStats)
			pool.Get("/states", s.poolStates)
			pool.Get("/audit", s.auditPool)
			pool.Get("/minimal-tx-value", s.minimalTxValue)
			pool.Post("/spends", s.submitSpend)
		})

		v1.Post("/deposits/intents", s.recordIntent)
		v1.Post("/deposits/offers", s.preDeposit)
		v1.Post("/deposits/reconcile", s.reconcile)
		v1.Get("/mints/pending", s.pendingMints)
		v1.Post("/mints/{fundingTx}", s.markMinted)
		v1.Get("/balances/{address}", s.balance)
		v1.Get("/fee-rate", s.feeRate)

		v1.Post("/chain/blocks", s.newBlock)
		v1.Post("/chain/rollbacks", s.rollback)
	})
	return r
}

// requestLog tags each request with an id and logs its outcome.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
