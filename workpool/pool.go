// Package workpool bounds total concurrent LLM generations across all
// providers. Each item takes a rate-limiter lease, invokes the provider
// adapter, extracts code from the response, and retries transient failures
// once without giving up its pool slot.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/llm"
	"github.com/c360studio/albench/ratelimit"
)

// pollInterval bounds the admission busy-wait.
const pollInterval = 50 * time.Millisecond

// compileReadyConfidence is the extractor threshold for ReadyForCompile.
const compileReadyConfidence = 0.5

// ErrDraining is returned for submissions after Drain started.
var ErrDraining = errors.New("work pool is draining")

// Generator is the adapter surface the pool invokes. *llm.Adapter satisfies
// it; tests substitute fakes.
type Generator interface {
	GenerateCode(ctx context.Context, req llm.Request) (*llm.Response, error)
	GenerateFix(ctx context.Context, previousCode string, failures []string, req llm.Request) (*llm.Response, error)
}

// GeneratorResolver resolves a work item to its generator.
type GeneratorResolver func(item *benchmark.LLMWorkItem) (Generator, error)

// Pool is the global-cap LLM work pool.
type Pool struct {
	cap     int
	limiter *ratelimit.Limiter
	resolve GeneratorResolver
	extract func(string) llm.Extraction
	logger  *slog.Logger

	mu       sync.Mutex
	active   int
	draining bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithExtractor overrides the code extractor.
func WithExtractor(fn func(string) llm.Extraction) PoolOption {
	return func(p *Pool) {
		p.extract = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates a work pool with the given global concurrency cap.
func NewPool(cap int, limiter *ratelimit.Limiter, resolve GeneratorResolver, opts ...PoolOption) *Pool {
	if cap < 1 {
		cap = 1
	}
	p := &Pool{
		cap:     cap,
		limiter: limiter,
		resolve: resolve,
		extract: llm.Extract,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Active returns the number of items currently in flight.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Submit runs one item through generation. The returned error is non-nil only
// for refused admission (draining) or caller cancellation; adapter failures
// come back as unsuccessful results.
func (p *Pool) Submit(ctx context.Context, item *benchmark.LLMWorkItem) (*benchmark.LLMWorkResult, error) {
	// Bounded-poll admission against the global cap.
	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			return nil, ErrDraining
		}
		if p.active < p.cap {
			p.active++
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	return p.run(ctx, item), nil
}

// SubmitBatch runs all items in parallel and never fails as a whole; per-item
// failures are recorded as unsuccessful results keyed by the item's model.
func (p *Pool) SubmitBatch(ctx context.Context, items []*benchmark.LLMWorkItem) map[string]*benchmark.LLMWorkResult {
	results := make(map[string]*benchmark.LLMWorkResult, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item *benchmark.LLMWorkItem) {
			defer wg.Done()
			result, err := p.Submit(ctx, item)
			if err != nil {
				result = &benchmark.LLMWorkResult{
					WorkItemID: item.ID,
					Error:      err.Error(),
				}
			}
			mu.Lock()
			results[item.Model] = result
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return results
}

// Drain refuses new submissions and waits for the active count to reach zero.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	for {
		p.mu.Lock()
		idle := p.active == 0
		p.mu.Unlock()
		if idle {
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// run executes one item inside an already-claimed pool slot. A transient or
// rate-limited call is retried at most once without releasing the slot.
func (p *Pool) run(ctx context.Context, item *benchmark.LLMWorkItem) *benchmark.LLMWorkResult {
	start := time.Now()
	retried := false

	for {
		resp, err := p.callAdapter(ctx, item)
		if err == nil {
			ext := p.extract(resp.Content)
			return &benchmark.LLMWorkResult{
				WorkItemID:      item.ID,
				Success:         true,
				Code:            ext.Code,
				Response:        resp,
				Duration:        time.Since(start),
				ReadyForCompile: ext.Confidence > compileReadyConfidence,
			}
		}

		classified := llm.Classify(err)

		var rl *llm.RateLimitError
		switch {
		case errors.As(classified, &rl):
			p.limiter.UpdateFromError(item.Provider, rl.RetryAfter, true)
			if !retried {
				retried = true
				delay := rl.RetryAfter
				if delay <= 0 {
					delay = time.Second
				}
				p.logger.Debug("Rate limited, retrying",
					"workItem", item.ID,
					"provider", item.Provider,
					"delay", delay)
				if sleepCtx(ctx, delay) == nil {
					continue
				}
			}
		case llm.IsTransient(classified):
			if item.AttemptNumber <= 2 && !retried {
				retried = true
				delay := time.Duration(item.AttemptNumber) * time.Second
				p.logger.Debug("Transient error, retrying",
					"workItem", item.ID,
					"delay", delay,
					"error", err)
				if sleepCtx(ctx, delay) == nil {
					continue
				}
			}
		}

		return &benchmark.LLMWorkResult{
			WorkItemID: item.ID,
			Error:      classified.Error(),
			Duration:   time.Since(start),
		}
	}
}

// callAdapter resolves the generator, takes a provider lease, and performs
// one generate or fix call. The lease is always released, passing the actual
// token usage when known.
func (p *Pool) callAdapter(ctx context.Context, item *benchmark.LLMWorkItem) (*llm.Response, error) {
	gen, err := p.resolve(item)
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("resolve adapter for %s/%s: %w", item.Provider, item.Model, err))
	}

	estimated := 0
	if item.Context != nil {
		estimated = item.Context.EstimatedTokens
	}
	lease, err := p.limiter.Acquire(ctx, item.Provider, estimated)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if item.Context != nil && item.Context.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, item.Context.Timeout)
		defer cancel()
	}

	req := p.buildRequest(item)

	var resp *llm.Response
	if item.AttemptNumber <= 1 || len(item.PreviousAttempts) == 0 {
		resp, err = gen.GenerateCode(callCtx, req)
	} else {
		prev := item.PreviousAttempts[len(item.PreviousAttempts)-1]
		resp, err = gen.GenerateFix(callCtx, prev.ExtractedCode, prev.FailureReasons, req)
	}

	actual := 0
	if resp != nil {
		actual = resp.Usage.TotalTokens
	}
	p.limiter.Release(lease, actual)

	return resp, err
}

func (p *Pool) buildRequest(item *benchmark.LLMWorkItem) llm.Request {
	req := llm.Request{
		SystemPrompt: item.SystemPrompt,
	}
	if item.Context != nil {
		req.Instructions = item.Context.Instructions
		req.Temperature = item.Context.Temperature
		req.MaxTokens = item.Context.MaxTokens
	}
	if item.FixInstructions != "" {
		req.Instructions = item.FixInstructions
	}
	return req
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
