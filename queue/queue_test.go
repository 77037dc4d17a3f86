package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/queue"
	"github.com/c360studio/albench/sandbox"
	"github.com/c360studio/albench/task"
)

func newItem(taskID, code string, testApp string) *benchmark.CompileWorkItem {
	m := &task.Manifest{
		ID:             taskID,
		MaxAttempts:    1,
		PromptTemplate: "prompt.tmpl",
		Expected: task.Expected{
			Compile: true,
			TestApp: testApp,
		},
	}
	return &benchmark.CompileWorkItem{
		ID:   taskID + "-compile",
		Code: code,
		Context: &benchmark.ExecutionContext{
			Manifest:   m,
			TaskID:     taskID,
			TargetFile: taskID + ".al",
		},
		AttemptNumber: 1,
		CreatedAt:     time.Now(),
	}
}

func TestEnqueueCompileSuccess(t *testing.T) {
	provider := sandbox.NewMockProvider()
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	result, err := q.Enqueue(context.Background(), newItem("task-a", "codeunit 50100 Demo {}", ""))
	require.NoError(t, err)
	require.NotNil(t, result.Compilation)
	assert.True(t, result.Compilation.Success)
	// No test app declared, so tests never ran.
	assert.Nil(t, result.Test)

	compiles, tests := provider.Calls()
	assert.Equal(t, 1, compiles)
	assert.Equal(t, 0, tests)
}

func TestEnqueueRunsTestsWhenDeclared(t *testing.T) {
	provider := sandbox.NewMockProvider()
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	result, err := q.Enqueue(context.Background(), newItem("task-a", "codeunit 50100 Demo {}", "Demo.Tests"))
	require.NoError(t, err)
	assert.True(t, result.Compilation.Success)
	require.NotNil(t, result.Test)
	assert.True(t, result.Test.Success)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestCompileFailureSkipsTests(t *testing.T) {
	provider := sandbox.NewMockProvider()
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	result, err := q.Enqueue(context.Background(), newItem("task-a", "COMPILE_FAIL", "Demo.Tests"))
	require.NoError(t, err, "a compile failure is a normal resolution, not an error")
	assert.False(t, result.Compilation.Success)
	assert.NotEmpty(t, result.Compilation.Errors)
	assert.Nil(t, result.Test)

	_, tests := provider.Calls()
	assert.Equal(t, 0, tests)
}

// serialProvider fails the test if two compilations ever overlap.
type serialProvider struct {
	latency time.Duration

	mu     sync.Mutex
	active int
	order  []string
}

func (p *serialProvider) CompileProject(ctx context.Context, _ string, project *sandbox.Project) (*sandbox.CompilationResult, error) {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.mu.Unlock()
		return nil, fmt.Errorf("overlapping compilations")
	}
	p.order = append(p.order, project.Name)
	p.mu.Unlock()

	time.Sleep(p.latency)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return &sandbox.CompilationResult{Success: true}, nil
}

func (p *serialProvider) RunTests(ctx context.Context, _ string, _ *sandbox.Project) (*sandbox.TestResult, error) {
	return &sandbox.TestResult{Success: true}, nil
}

func TestProcessingIsSerialAndFIFO(t *testing.T) {
	provider := &serialProvider{latency: 40 * time.Millisecond}
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), newItem(fmt.Sprintf("task-%d", n), "ok", ""))
			assert.NoError(t, err)
		}(i)
		// Stagger so arrival order is deterministic.
		time.Sleep(15 * time.Millisecond)
	}
	wg.Wait()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{"task-0", "task-1", "task-2", "task-3"}, provider.order)
}

func TestQueueFull(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 300 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb",
		queue.WithWorkDir(t.TempDir()),
		queue.WithMaxQueueSize(1))
	defer q.Close()

	// First item is picked up by the worker, second fills the queue.
	go q.Enqueue(context.Background(), newItem("busy", "ok", ""))
	time.Sleep(50 * time.Millisecond)
	go q.Enqueue(context.Background(), newItem("pending", "ok", ""))
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, err := q.Enqueue(context.Background(), newItem("rejected", "ok", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	var full *queue.FullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, 1, full.CurrentSize)
}

func TestQueueTimeout(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 400 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb",
		queue.WithWorkDir(t.TempDir()),
		queue.WithTimeout(80*time.Millisecond))
	defer q.Close()

	go q.Enqueue(context.Background(), newItem("busy", "ok", ""))
	time.Sleep(30 * time.Millisecond)

	_, err := q.Enqueue(context.Background(), newItem("starved", "ok", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrQueueTimeout)

	var timeout *queue.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.GreaterOrEqual(t, timeout.WaitTime, 80*time.Millisecond)
}

func TestClearRejectsPendingOnly(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 200 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	inFlight := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), newItem("in-flight", "ok", ""))
		inFlight <- err
	}()
	time.Sleep(50 * time.Millisecond)

	pending := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), newItem("pending", "ok", ""))
		pending <- err
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 10*time.Millisecond)

	q.Clear()

	assert.ErrorIs(t, <-pending, queue.ErrQueueCleared)
	// The in-process item still resolves normally.
	assert.NoError(t, <-inFlight)
}

func TestSandboxExceptionRejectsItemOnly(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.CompileErr = errors.New("sandbox unreachable")
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	_, err := q.Enqueue(context.Background(), newItem("task-a", "ok", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox unreachable")

	// The queue recovers for the next item.
	provider.CompileErr = nil
	result, err := q.Enqueue(context.Background(), newItem("task-b", "ok", ""))
	require.NoError(t, err)
	assert.True(t, result.Compilation.Success)
}

func TestEnqueueContextCancellation(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 300 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	go q.Enqueue(context.Background(), newItem("busy", "ok", ""))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, newItem("cancelled", "ok", ""))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, q.Len())
}

func TestGetStats(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 20 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(context.Background(), newItem(fmt.Sprintf("task-%d", i), "ok", ""))
		require.NoError(t, err)
	}

	stats := q.GetStats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 2, stats.Processed)
	assert.Greater(t, stats.AvgProcessTime, time.Duration(0))
}

func TestDrain(t *testing.T) {
	provider := sandbox.NewMockProvider()
	provider.Latency = 100 * time.Millisecond
	q := queue.NewCompileQueue(provider, "sb", queue.WithWorkDir(t.TempDir()))
	defer q.Close()

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), newItem("task-a", "ok", ""))
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, q.Drain(context.Background()))
	assert.NoError(t, <-done)
	assert.False(t, q.IsProcessing())
}
