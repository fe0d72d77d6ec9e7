package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinatorExclusiveAcquire(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()

	assert.True(t, c.TryAcquire("KRW-BTC"))
	assert.False(t, c.TryAcquire("KRW-BTC"))
	assert.True(t, c.Held("KRW-BTC"))

	// a different market is independent
	assert.True(t, c.TryAcquire("KRW-ETH"))

	c.Release("KRW-BTC")
	assert.False(t, c.Held("KRW-BTC"))
	assert.True(t, c.TryAcquire("KRW-BTC"))
}

func TestCoordinatorConcurrentAcquireSingleWinner(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.TryAcquire("KRW-BTC") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCoordinatorReleaseUnknownMarketIsNoop(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.Release("KRW-XRP")
	assert.True(t, c.TryAcquire("KRW-XRP"))
}
