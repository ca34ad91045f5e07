package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsTask(t *testing.T) {
	t.Parallel()

	pool := New(nil, 2, 4)
	pool.Start(context.Background())
	defer pool.Shutdown()

	ran := false
	require.NoError(t, pool.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestDoBeforeStart(t *testing.T) {
	t.Parallel()

	pool := New(nil, 1, 1)
	assert.Error(t, pool.Do(context.Background(), func() {}))
}

func TestDoObservesContext(t *testing.T) {
	t.Parallel()

	pool := New(nil, 1, 1)
	pool.Start(context.Background())
	defer pool.Shutdown()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pool.Do(context.Background(), func() { <-block })
	}()

	// Occupy the single worker, then give up on a second task quickly.
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	wg.Wait()
}

func TestConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	pool := New(nil, 4, 16)
	pool.Start(context.Background())
	defer pool.Shutdown()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pool.Do(context.Background(), func() { count.Add(1) }))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(32), count.Load())
}
