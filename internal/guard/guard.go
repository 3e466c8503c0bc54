// Package guard serializes custody-spending proposals per pool address.
package guard

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrBusy is returned by Do when the pool already has an outstanding token.
var ErrBusy = errors.New("guard: pool busy")

// Token is proof of exclusive proposal rights over one pool.
type Token struct {
	ID   uuid.UUID
	Pool string
}

// ExecutionGuard holds the set of pools with a proposal in flight.
type ExecutionGuard struct {
	mu        sync.Mutex
	executing map[string]uuid.UUID
}

func New() *ExecutionGuard {
	return &ExecutionGuard{executing: make(map[string]uuid.UUID)}
}

// TryAcquire returns a token for pool, or false if one is already held.
func (g *ExecutionGuard) TryAcquire(pool string) (Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.executing[pool]; ok {
		return Token{}, false
	}
	token := Token{ID: uuid.New(), Pool: pool}
	g.executing[pool] = token.ID
	return token, true
}

// Release drops the token. Releasing a token that no longer owns the pool
// is a no-op, so a stale token can never free someone else's guard.
func (g *ExecutionGuard) Release(token Token) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.executing[token.Pool]; ok && id == token.ID {
		delete(g.executing, token.Pool)
	}
}

// Held reports whether pool currently has an outstanding token.
func (g *ExecutionGuard) Held(pool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.executing[pool]
	return ok
}

// Do runs fn while holding the guard for pool. The guard is released on
// every exit path of fn, panics included.
func (g *ExecutionGuard) Do(pool string, fn func(Token) error) error {
	token, ok := g.TryAcquire(pool)
	if !ok {
		return ErrBusy
	}
	defer g.Release(token)
	return fn(token)
}
