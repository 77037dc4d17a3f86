package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/albench/queue"
	"github.com/c360studio/albench/sandbox"
)

// spreadProvider records which sandbox handled each compilation.
type spreadProvider struct {
	latency time.Duration

	mu        sync.Mutex
	sandboxes map[string]int
}

func (p *spreadProvider) CompileProject(ctx context.Context, sandboxName string, _ *sandbox.Project) (*sandbox.CompilationResult, error) {
	p.mu.Lock()
	if p.sandboxes == nil {
		p.sandboxes = make(map[string]int)
	}
	p.sandboxes[sandboxName]++
	p.mu.Unlock()

	time.Sleep(p.latency)
	return &sandbox.CompilationResult{Success: true}, nil
}

func (p *spreadProvider) RunTests(ctx context.Context, _ string, _ *sandbox.Project) (*sandbox.TestResult, error) {
	return &sandbox.TestResult{Success: true}, nil
}

func TestNewPoolRequiresSandbox(t *testing.T) {
	_, err := queue.NewPool(sandbox.NewMockProvider(), nil)
	require.Error(t, err)
}

func TestPoolSpreadsAcrossSandboxes(t *testing.T) {
	provider := &spreadProvider{latency: 100 * time.Millisecond}
	pool, err := queue.NewPool(provider, []string{"sb-1", "sb-2"}, queue.WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := pool.Enqueue(context.Background(), newItem(fmt.Sprintf("task-%d", n), "ok", ""))
			assert.NoError(t, err)
		}(i)
		time.Sleep(30 * time.Millisecond)
	}
	wg.Wait()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	// With queues draining slower than arrivals, both sandboxes get work.
	assert.Len(t, provider.sandboxes, 2)
}

func TestPoolAggregates(t *testing.T) {
	provider := sandbox.NewMockProvider()
	pool, err := queue.NewPool(provider, []string{"sb-1", "sb-2"}, queue.WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		_, err := pool.Enqueue(context.Background(), newItem(fmt.Sprintf("task-%d", i), "ok", ""))
		require.NoError(t, err)
	}

	assert.Equal(t, 0, pool.Len())
	assert.False(t, pool.IsProcessing())
	assert.Equal(t, 3, pool.GetStats().Processed)
	assert.Len(t, pool.Queues(), 2)
}

func TestPoolClear(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 200 * time.Millisecond
	pool, err := queue.NewPool(provider, []string{"sb-1"}, queue.WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	defer pool.Close()

	go pool.Enqueue(context.Background(), newItem("busy", "ok", ""))
	time.Sleep(50 * time.Millisecond)

	pending := make(chan error, 1)
	go func() {
		_, err := pool.Enqueue(context.Background(), newItem("pending", "ok", ""))
		pending <- err
	}()
	require.Eventually(t, func() bool { return pool.Len() == 1 }, time.Second, 10*time.Millisecond)

	pool.Clear()
	assert.ErrorIs(t, <-pending, queue.ErrQueueCleared)

	require.NoError(t, pool.Drain(context.Background()))
}
