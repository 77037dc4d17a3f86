package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/sandbox"
)

// Pool offers the CompileQueue contract across N sandboxes, one underlying
// queue per sandbox, with least-loaded routing. There is no work stealing:
// once routed, an item waits in its queue's FIFO.
type Pool struct {
	queues []*CompileQueue
}

// NewPool creates one queue per sandbox name. An empty sandbox list is a
// programming error and is rejected at construction time.
func NewPool(provider sandbox.Provider, sandboxNames []string, opts ...QueueOption) (*Pool, error) {
	if len(sandboxNames) == 0 {
		return nil, fmt.Errorf("queue pool requires at least one sandbox")
	}
	queues := make([]*CompileQueue, 0, len(sandboxNames))
	for _, name := range sandboxNames {
		queues = append(queues, NewCompileQueue(provider, name, opts...))
	}
	return &Pool{queues: queues}, nil
}

// Enqueue routes the item to the queue with the smallest length, ties broken
// by first encountered.
func (p *Pool) Enqueue(ctx context.Context, item *benchmark.CompileWorkItem) (*benchmark.CompileWorkResult, error) {
	target := p.queues[0]
	best := target.Len()
	for _, q := range p.queues[1:] {
		if n := q.Len(); n < best {
			target = q
			best = n
		}
	}
	return target.Enqueue(ctx, item)
}

// Drain awaits all underlying queues.
func (p *Pool) Drain(ctx context.Context) error {
	for _, q := range p.queues {
		if err := q.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Clear clears all underlying queues.
func (p *Pool) Clear() {
	for _, q := range p.queues {
		q.Clear()
	}
}

// Close closes all underlying queues.
func (p *Pool) Close() {
	for _, q := range p.queues {
		q.Close()
	}
}

// Len sums pending entries across queues.
func (p *Pool) Len() int {
	total := 0
	for _, q := range p.queues {
		total += q.Len()
	}
	return total
}

// IsProcessing reports whether any queue has an item in process.
func (p *Pool) IsProcessing() bool {
	for _, q := range p.queues {
		if q.IsProcessing() {
			return true
		}
	}
	return false
}

// GetStats aggregates: counters sum, averages are unweighted means of the
// per-queue averages.
func (p *Pool) GetStats() Stats {
	var agg Stats
	var waitSum, processSum time.Duration
	for _, q := range p.queues {
		s := q.GetStats()
		agg.Pending += s.Pending
		agg.Processing += s.Processing
		agg.Processed += s.Processed
		waitSum += s.AvgWaitTime
		processSum += s.AvgProcessTime
	}
	n := time.Duration(len(p.queues))
	agg.AvgWaitTime = waitSum / n
	agg.AvgProcessTime = processSum / n
	return agg
}

// Queues exposes the underlying queues (status reporting).
func (p *Pool) Queues() []*CompileQueue {
	return p.queues
}
