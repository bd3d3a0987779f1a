package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/erain9/darkpool/pkg/backend/storetest"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store {
		return NewMemoryBackend()
	})
}

func TestMemoryBackendConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	market := core.MustParseIdentity("0x0101010101010101010101010101010101010101")
	ob := core.NewOrderbook(market, market)
	require.NoError(t, b.Commit(ctx, core.NewTx().PutOrderbook(ob)))

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			read, err := b.GetOrderbook(ctx, market)
			if err != nil {
				return
			}
			read.OrderCount++
			if b.Commit(ctx, core.NewTx().PutOrderbook(read)) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := b.GetOrderbook(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, uint64(successes), got.OrderCount)
	assert.Equal(t, uint64(successes+1), got.Version)
	assert.Equal(t, 1, b.Len())
}
