// Package queue serializes compile+test operations against sandboxes. A
// CompileQueue owns one sandbox and processes entries strictly FIFO with at
// most one compile or test in flight; a Pool fans out across several queues
// with least-loaded routing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/sandbox"
)

// DefaultTimeout bounds how long an entry may wait before processing starts.
const DefaultTimeout = 300 * time.Second

// DefaultMaxQueueSize bounds pending admission.
const DefaultMaxQueueSize = 100

// drainPoll bounds the drain polling period.
const drainPoll = 50 * time.Millisecond

// Platform/runtime tags stamped into generated project manifests.
const (
	projectPlatform = "1.0.0.0"
	projectRuntime  = "11.0"
)

// Stats is a point-in-time queue statistics snapshot.
type Stats struct {
	Pending        int           `json:"pending"`
	Processing     int           `json:"processing"`
	Processed      int           `json:"processed"`
	AvgWaitTime    time.Duration `json:"avgWaitTime"`
	AvgProcessTime time.Duration `json:"avgProcessTime"`
}

// outcome is the resolution delivered to one waiting Enqueue call.
type outcome struct {
	result *benchmark.CompileWorkResult
	err    error
}

// entry is one queued compile work item. Removal from the pending slice is
// the commitment point: whoever removes an entry delivers its outcome,
// exactly once.
type entry struct {
	item       *benchmark.CompileWorkItem
	resultCh   chan outcome
	enqueuedAt time.Time
	timer      *time.Timer
}

// CompileQueue serializes access to one sandbox.
type CompileQueue struct {
	provider    sandbox.Provider
	sandboxName string

	maxQueueSize int
	timeout      time.Duration
	workDir      string
	logger       *slog.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	pending      []*entry
	processing   bool
	processed    int
	totalWait    time.Duration
	totalProcess time.Duration
	closed       bool
}

// QueueOption configures a CompileQueue.
type QueueOption func(*CompileQueue)

// WithMaxQueueSize bounds pending admission.
func WithMaxQueueSize(n int) QueueOption {
	return func(q *CompileQueue) {
		q.maxQueueSize = n
	}
}

// WithTimeout bounds how long an entry may stay pending.
func WithTimeout(d time.Duration) QueueOption {
	return func(q *CompileQueue) {
		q.timeout = d
	}
}

// WithWorkDir sets the base directory for temporary projects.
func WithWorkDir(dir string) QueueOption {
	return func(q *CompileQueue) {
		q.workDir = dir
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *CompileQueue) {
		q.logger = logger
	}
}

// NewCompileQueue creates a queue bound to one sandbox and starts its worker.
func NewCompileQueue(provider sandbox.Provider, sandboxName string, opts ...QueueOption) *CompileQueue {
	q := &CompileQueue{
		provider:     provider,
		sandboxName:  sandboxName,
		maxQueueSize: DefaultMaxQueueSize,
		timeout:      DefaultTimeout,
		workDir:      os.TempDir(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)

	go q.worker()
	return q
}

// SandboxName returns the sandbox this queue serializes.
func (q *CompileQueue) SandboxName() string { return q.sandboxName }

// Enqueue admits one item and blocks until it resolves. Rejects synchronously
// with FullError when the queue is saturated; a pending item that reaches the
// queue timeout is removed and rejected with TimeoutError. Items already in
// process continue to resolution regardless of caller cancellation.
func (q *CompileQueue) Enqueue(ctx context.Context, item *benchmark.CompileWorkItem) (*benchmark.CompileWorkResult, error) {
	q.mu.Lock()
	if len(q.pending) >= q.maxQueueSize {
		size := len(q.pending)
		q.mu.Unlock()
		return nil, &FullError{CurrentSize: size}
	}

	e := &entry{
		item:       item,
		resultCh:   make(chan outcome, 1),
		enqueuedAt: time.Now(),
	}
	e.timer = time.AfterFunc(q.timeout, func() { q.expire(e) })
	q.pending = append(q.pending, e)
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case out := <-e.resultCh:
		return out.result, out.err
	case <-ctx.Done():
		// Remove if still pending; an in-flight item delivers into the
		// buffered channel and is abandoned.
		q.remove(e)
		return nil, ctx.Err()
	}
}

// expire rejects an entry still pending when its timer fires.
func (q *CompileQueue) expire(e *entry) {
	if !q.remove(e) {
		return
	}
	waited := time.Since(e.enqueuedAt)
	q.logger.Warn("Compile queue entry timed out",
		"sandbox", q.sandboxName,
		"workItem", e.item.ID,
		"waited", waited)
	e.resultCh <- outcome{err: &TimeoutError{WaitTime: waited}}
}

// remove unlinks an entry from the pending slice. Returns false when the
// entry was already claimed (processing, timed out, or cleared).
func (q *CompileQueue) remove(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.pending {
		if cand == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// worker is the single consumer loop: strictly FIFO, one compile+test in
// flight at a time.
func (q *CompileQueue) worker() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.pending[0]
		q.pending = q.pending[1:]
		q.processing = true
		waited := time.Since(e.enqueuedAt)
		q.totalWait += waited
		q.mu.Unlock()

		e.timer.Stop()

		start := time.Now()
		result, err := q.process(e.item)
		elapsed := time.Since(start)

		q.mu.Lock()
		q.processing = false
		q.processed++
		q.totalProcess += elapsed
		q.mu.Unlock()

		e.resultCh <- outcome{result: result, err: err}
	}
}

// process materializes a temporary project, compiles it and, when the task
// names a test app, runs tests. A sandbox exception rejects this item only;
// a compile failure is a normal resolution.
func (q *CompileQueue) process(item *benchmark.CompileWorkItem) (*benchmark.CompileWorkResult, error) {
	start := time.Now()

	project, err := q.materialize(item)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Cleanup errors are swallowed.
		_ = os.RemoveAll(project.Dir)
	}()

	ctx := context.Background()

	compileStart := time.Now()
	compilation, err := q.provider.CompileProject(ctx, q.sandboxName, project)
	compileDuration := time.Since(compileStart)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s compile: %w", q.sandboxName, err)
	}

	result := &benchmark.CompileWorkResult{
		WorkItemID:      item.ID,
		Compilation:     compilation,
		CompileDuration: compileDuration,
	}

	if compilation.Success && item.Context != nil && item.Context.Manifest != nil && item.Context.Manifest.HasTests() {
		testStart := time.Now()
		test, err := q.provider.RunTests(ctx, q.sandboxName, project)
		result.TestDuration = time.Since(testStart)
		if err != nil {
			return nil, fmt.Errorf("sandbox %s tests: %w", q.sandboxName, err)
		}
		result.Test = test
	}

	result.Duration = time.Since(start)
	return result, nil
}

// projectManifest is the generated project descriptor written next to the
// code file.
type projectManifest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Runtime  string `json:"runtime"`
	TestApp  string `json:"testApp,omitempty"`
}

// materialize writes the temporary project directory: a manifest plus the
// generated code at <taskId>.al.
func (q *CompileQueue) materialize(item *benchmark.CompileWorkItem) (*sandbox.Project, error) {
	taskID := item.Context.TaskID
	dir, err := os.MkdirTemp(q.workDir, "albench-"+taskID+"-")
	if err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	mainFile := item.Context.TargetFile
	if mainFile == "" {
		mainFile = taskID + ".al"
	}

	var testApp string
	if item.Context.Manifest != nil {
		testApp = item.Context.Manifest.Expected.TestApp
	}

	project := &sandbox.Project{
		ID:       uuid.New().String(),
		Name:     taskID,
		Dir:      dir,
		MainFile: mainFile,
		Platform: projectPlatform,
		Runtime:  projectRuntime,
		TestApp:  testApp,
	}

	manifest, err := json.MarshalIndent(projectManifest{
		ID:       project.ID,
		Name:     project.Name,
		Platform: project.Platform,
		Runtime:  project.Runtime,
		TestApp:  project.TestApp,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal project manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.json"), manifest, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write project manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mainFile), []byte(item.Code), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write code file: %w", err)
	}
	return project, nil
}

// Drain resolves when the queue is empty and nothing is in process.
func (q *CompileQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && !q.processing
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear rejects all pending entries. Items already in process continue to
// resolution.
func (q *CompileQueue) Clear() {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range cleared {
		e.timer.Stop()
		e.resultCh <- outcome{err: ErrQueueCleared}
	}
	if len(cleared) > 0 {
		q.logger.Debug("Compile queue cleared",
			"sandbox", q.sandboxName,
			"rejected", len(cleared))
	}
}

// Close stops the worker after pending entries finish. For tests and
// shutdown.
func (q *CompileQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of pending entries.
func (q *CompileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsProcessing reports whether an item is currently in process.
func (q *CompileQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// GetStats returns a statistics snapshot.
func (q *CompileQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:   len(q.pending),
		Processed: q.processed,
	}
	if q.processing {
		s.Processing = 1
	}
	if q.processed > 0 {
		s.AvgWaitTime = q.totalWait / time.Duration(q.processed)
		s.AvgProcessTime = q.totalProcess / time.Duration(q.processed)
	}
	return s
}
