// Package orchestrator drives the end-to-end benchmark loop: for each task,
// one goroutine per model variant runs up to MaxAttempts generate → compile →
// (test) → score cycles, emitting typed events along the way and folding all
// outcomes into the aggregator.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/albench/aggregate"
	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/events"
	"github.com/c360studio/albench/prompt"
	"github.com/c360studio/albench/queue"
	"github.com/c360studio/albench/task"
	"github.com/c360studio/albench/variant"
	"github.com/c360studio/albench/workpool"
)

// CompileBackend is the compile-queue surface the orchestrator drives. Both
// *queue.CompileQueue and *queue.Pool satisfy it.
type CompileBackend interface {
	Enqueue(ctx context.Context, item *benchmark.CompileWorkItem) (*benchmark.CompileWorkResult, error)
	Drain(ctx context.Context) error
	Clear()
	Len() int
	IsProcessing() bool
	GetStats() queue.Stats
}

// Options configures a run.
type Options struct {
	// TaskConcurrency bounds parallel tasks; <= 1 runs tasks sequentially.
	TaskConcurrency int

	// SandboxProvider and SandboxName identify the compile environment
	// recorded into execution contexts.
	SandboxProvider string
	SandboxName     string

	// OutputDir is recorded into execution contexts.
	OutputDir string

	// ExecutedBy and Environment annotate results.
	ExecutedBy  string
	Environment string

	// Debug marks execution contexts for verbose collaborators.
	Debug bool

	// AbortOnCritical aborts the run when a variant raises a CriticalError.
	AbortOnCritical bool
}

// RunReport is the outcome of one full run.
type RunReport struct {
	Results     []*benchmark.TaskExecutionResult `json:"results"`
	TaskResults []*benchmark.ParallelTaskResult  `json:"taskResults"`
	Summary     *aggregate.RunStats              `json:"summary"`
}

// Orchestrator coordinates the work pool, compile queue and aggregator.
type Orchestrator struct {
	pool     *workpool.Pool
	compile  CompileBackend
	agg      *aggregate.Aggregator
	emitter  *events.Emitter
	renderer *prompt.Renderer
	opts     Options
	logger   *slog.Logger

	critMu      sync.Mutex
	criticalErr error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithEmitter sets the event emitter; default is an emitter with no
// listeners.
func WithEmitter(e *events.Emitter) Option {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

// New creates an orchestrator.
func New(pool *workpool.Pool, compile CompileBackend, agg *aggregate.Aggregator, renderer *prompt.Renderer, opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		pool:     pool,
		compile:  compile,
		agg:      agg,
		renderer: renderer,
		opts:     opts,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = events.NewEmitter(o.logger)
	}
	return o
}

// Subscribe registers an event listener.
func (o *Orchestrator) Subscribe(l events.Listener) {
	o.emitter.Subscribe(l)
}

// Run executes all tasks against all variants and returns the aggregated
// report. A run always completes with a summary unless a critical error was
// raised under AbortOnCritical.
func (o *Orchestrator) Run(ctx context.Context, tasks []*task.Manifest, variants []*variant.Variant) (*RunReport, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu          sync.Mutex
		taskResults []*benchmark.ParallelTaskResult
		errTexts    []string
		completed   int
	)

	sem := make(chan struct{}, taskSlots(o.opts.TaskConcurrency))
	var wg sync.WaitGroup

	for _, m := range tasks {
		if o.critical() != nil {
			break
		}
		if runCtx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(m *task.Manifest) {
			defer wg.Done()
			defer func() { <-sem }()

			tr := o.runTask(runCtx, m, variants, cancel)
			o.agg.AddParallelTaskResult(tr)

			mu.Lock()
			taskResults = append(taskResults, tr)
			for _, msg := range tr.Failures {
				errTexts = append(errTexts, msg)
			}
			completed++
			done := completed
			errsCopy := append([]string(nil), errTexts...)
			mu.Unlock()

			o.emitProgress(len(tasks), done, errsCopy, start)
		}(m)

		// Sequential default: wait for each task before admitting the next.
		if o.opts.TaskConcurrency <= 1 {
			wg.Wait()
		}
	}
	wg.Wait()

	// Let in-flight work settle before reporting.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer drainCancel()
	if err := o.pool.Drain(drainCtx); err != nil {
		o.logger.Warn("Work pool drain", "error", err)
	}
	if err := o.compile.Drain(drainCtx); err != nil {
		o.logger.Warn("Compile queue drain", "error", err)
	}

	report := &RunReport{
		Results:     o.agg.Results(),
		TaskResults: taskResults,
		Summary:     o.agg.Finalize(),
	}

	if err := o.critical(); err != nil {
		return report, err
	}
	return report, nil
}

// runTask fans out one goroutine per variant and settles them all.
func (o *Orchestrator) runTask(ctx context.Context, m *task.Manifest, variants []*variant.Variant, cancelRun context.CancelFunc) *benchmark.ParallelTaskResult {
	taskStart := time.Now()
	o.emitter.Emit(events.Event{Kind: events.TaskStarted, TaskID: m.ID})

	tr := &benchmark.ParallelTaskResult{
		TaskID:       m.ID,
		ModelResults: make(map[string]*benchmark.TaskExecutionResult),
		Failures:     make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, v := range variants {
		wg.Add(1)
		go func(v *variant.Variant) {
			defer wg.Done()

			result, err := o.executeVariant(ctx, m, v)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				tr.Failures[v.DisplayID()] = err.Error()
				o.emitter.Emit(events.Event{
					Kind:    events.Error,
					TaskID:  m.ID,
					Variant: v.DisplayID(),
					Message: err.Error(),
				})
				if o.opts.AbortOnCritical && IsCritical(err) {
					o.setCritical(err, cancelRun)
				}
				return
			}
			tr.ModelResults[v.DisplayID()] = result
			o.emitter.Emit(events.Event{
				Kind:    events.Result,
				TaskID:  m.ID,
				Variant: v.DisplayID(),
				Success: result.Success,
				Score:   result.FinalScore,
			})
		}(v)
	}
	wg.Wait()

	tr.PartialSuccess = len(tr.ModelResults) > 0
	tr.Comparison = aggregate.BuildTaskComparison(m.ID, tr.ModelResults)
	tr.Duration = time.Since(taskStart)

	o.emitter.Emit(events.Event{Kind: events.TaskCompleted, TaskID: m.ID})
	return tr
}

func (o *Orchestrator) emitProgress(total, completed int, errs []string, start time.Time) {
	elapsed := time.Since(start)
	info := &events.ProgressInfo{
		TotalTasks:      total,
		CompletedTasks:  completed,
		ActiveLLMCalls:  o.pool.Active(),
		CompileQueueLen: o.compile.Len(),
		Errors:          errs,
		ElapsedTime:     elapsed,
	}
	if completed > 0 {
		info.EstimatedTimeRem = time.Duration(int64(elapsed) / int64(completed) * int64(total-completed))
	}
	o.emitter.Emit(events.Event{Kind: events.Progress, Progress: info})
}

// setCritical records the first critical error and cancels the run.
func (o *Orchestrator) setCritical(err error, cancelRun context.CancelFunc) {
	o.critMu.Lock()
	defer o.critMu.Unlock()
	if o.criticalErr == nil {
		o.criticalErr = err
		cancelRun()
	}
}

func (o *Orchestrator) critical() error {
	o.critMu.Lock()
	defer o.critMu.Unlock()
	return o.criticalErr
}

func taskSlots(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// executionID builds the unique per-(task, variant) execution identifier.
func executionID(taskID, variantID string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%d", taskID, variantID, start.UnixMilli())
}
