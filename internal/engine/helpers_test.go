package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poolKeeper/internal/model"
)

const (
	testPool  = "tb1ptestpool"
	otherPool = "tb1potherpool"
	userAddr  = "tb1quser"
)

var errSignerDown = errors.New("signer unavailable")

type fakeSigner struct {
	mu       sync.Mutex
	calls    int
	requests []SignRequest
	err      error
	started  chan struct{}
	proceed  chan struct{}
	onSign   func()
}

func (s *fakeSigner) SignInput(ctx context.Context, req SignRequest) (Witness, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.proceed != nil {
		<-s.proceed
	}
	if s.onSign != nil {
		s.onSign()
	}
	if s.err != nil {
		return nil, s.err
	}
	return Witness{[]byte("sig:" + req.Outpoint.String())}, nil
}

func (s *fakeSigner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memorySink struct {
	mu     sync.Mutex
	events []model.Event
}

func (m *memorySink) PutEvents(events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memorySink) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestEngine(t *testing.T, signer Signer) *PoolEngine {
	t.Helper()
	e := New(Config{
		Signer: signer,
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
	}, zap.NewNop())
	require.NoError(t, e.RegisterPool(testPool, "test", []string{"86'", "1'", "0'"}))
	return e
}

func depositTx(id model.TxID, value uint64) model.Candidate {
	return model.Candidate{
		ID: id,
		Inputs: []model.CandidateInput{
			{Outpoint: model.Outpoint{TxID: "funding-" + id, Vout: 0}, Address: userAddr, Value: value + 500},
		},
		Outputs: []model.TxOutput{
			{Address: testPool, Value: value},
		},
	}
}

func spendTx(id model.TxID, prev model.Utxo, value uint64) model.Candidate {
	return model.Candidate{
		ID: id,
		Inputs: []model.CandidateInput{
			{Outpoint: model.Outpoint{TxID: "user-" + id, Vout: 1}, Address: userAddr, Value: 20000},
			{Outpoint: prev.Outpoint, Address: testPool, Value: prev.Value},
		},
		Outputs: []model.TxOutput{
			{Address: userAddr, Value: 10000},
			{Address: testPool, Value: value},
		},
	}
}

// advance proposes a spend of the current head custody (or a first deposit)
// and returns the new head.
func advance(t *testing.T, e *PoolEngine, id model.TxID, value uint64) model.PoolState {
	t.Helper()
	head, err := e.Head(testPool)
	require.NoError(t, err)

	candidate := depositTx(id, value)
	if head.Custody != nil {
		candidate = spendTx(id, *head.Custody, value)
	}
	spend, err := e.ProposeSpend(context.Background(), candidate, head.Sequence, testPool)
	require.NoError(t, err)
	return spend.State
}

func requireContiguous(t *testing.T, states []model.PoolState) {
	t.Helper()
	require.NotEmpty(t, states)
	for i := 1; i < len(states); i++ {
		require.Equal(t, states[i-1].Sequence+1, states[i].Sequence, "gap at index %d", i)
	}
}
