package guard

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireExclusive(t *testing.T) {
	g := New()

	token, ok := g.TryAcquire("pool-a")
	require.True(t, ok)
	require.Equal(t, "pool-a", token.Pool)

	_, ok = g.TryAcquire("pool-a")
	require.False(t, ok, "second acquire must fail closed")

	_, ok = g.TryAcquire("pool-b")
	require.True(t, ok, "other pools are independent")

	g.Release(token)
	require.False(t, g.Held("pool-a"))

	_, ok = g.TryAcquire("pool-a")
	require.True(t, ok)
}

func TestReleaseStaleTokenIsNoop(t *testing.T) {
	g := New()

	first, ok := g.TryAcquire("pool")
	require.True(t, ok)
	g.Release(first)

	second, ok := g.TryAcquire("pool")
	require.True(t, ok)

	g.Release(first)
	require.True(t, g.Held("pool"), "stale token must not release a newer guard")

	g.Release(second)
	require.False(t, g.Held("pool"))
}

func TestDoReleasesOnError(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.Do("pool", func(Token) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, g.Held("pool"))
}

func TestDoReleasesOnPanic(t *testing.T) {
	g := New()

	require.Panics(t, func() {
		_ = g.Do("pool", func(Token) error { panic("signer crashed") })
	})
	require.False(t, g.Held("pool"))
}

func TestDoBusy(t *testing.T) {
	g := New()

	err := g.Do("pool", func(Token) error {
		return g.Do("pool", func(Token) error { return nil })
	})
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, g.Held("pool"))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	g := New()
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := g.TryAcquire("pool"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins)
}
