// Package ratelimit provides per-provider admission control for LLM calls.
// Three budgets hold simultaneously for every provider: maximum concurrent
// in-flight requests, requests per minute, and tokens per minute. Upstream
// rate-limit signals trigger an exponential cool-off.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// window is the sliding accounting window for RPM and TPM budgets.
const window = 60 * time.Second

// maxBackoffMultiplier caps the consecutive-error backoff doubling.
const maxBackoffMultiplier = 64

// defaultBackoffBase is the cool-off unit when the provider sends no
// Retry-After.
const defaultBackoffBase = time.Second

// maxBackoff caps a computed cool-off.
const maxBackoff = 60 * time.Second

// Limits holds the three per-provider budgets.
type Limits struct {
	Concurrent int `yaml:"concurrent" json:"concurrent"`
	RPM        int `yaml:"rpm" json:"rpm"`
	TPM        int `yaml:"tpm" json:"tpm"`
}

// DefaultLimits returns the built-in per-provider budget table.
func DefaultLimits() map[string]Limits {
	return map[string]Limits{
		"anthropic":  {Concurrent: 3, RPM: 50, TPM: 100000},
		"openai":     {Concurrent: 5, RPM: 60, TPM: 150000},
		"gemini":     {Concurrent: 2, RPM: 30, TPM: 50000},
		"openrouter": {Concurrent: 10, RPM: 100, TPM: 200000},
		"azure":      {Concurrent: 5, RPM: 60, TPM: 150000},
		"local":      {Concurrent: 1, RPM: 999, TPM: 999999},
		"mock":       {Concurrent: 100, RPM: 999, TPM: 999999},
	}
}

// fallbackLimits applies to providers absent from the table.
var fallbackLimits = Limits{Concurrent: 3, RPM: 50, TPM: 100000}

// Lease is a token granting one in-flight call against a provider's budgets.
// It is valid from Acquire until Release.
type Lease struct {
	ID              uint64
	Provider        string
	AcquiredAt      time.Time
	EstimatedTokens int
}

// Status is a point-in-time snapshot of one provider's budget state.
type Status struct {
	Provider       string    `json:"provider"`
	Limits         Limits    `json:"limits"`
	ActiveLeases   int       `json:"activeLeases"`
	RecentRequests int       `json:"recentRequests"`
	RecentTokens   int       `json:"recentTokens"`
	QueuedWaiters  int       `json:"queuedWaiters"`
	BackoffUntil   time.Time `json:"backoffUntil,omitempty"`
}

// waiter is one blocked Acquire waiting for a concurrency slot.
type waiter struct {
	ch chan struct{}
}

// tokenEntry is one TPM window entry, addressable by lease for true-up on
// release.
type tokenEntry struct {
	at      time.Time
	tokens  int
	leaseID uint64
}

// providerState is the mutable budget state for one provider. Guarded by the
// limiter mutex.
type providerState struct {
	limits            Limits
	active            map[uint64]*Lease
	requests          []time.Time
	tokens            []tokenEntry
	backoffUntil      time.Time
	backoffMultiplier int
	waiters           []*waiter
}

// Limiter enforces per-provider budgets. Waiters for a concurrency slot are
// served strictly FIFO; RPM/TPM waits sleep until the oldest window entry
// expires.
type Limiter struct {
	mu        sync.Mutex
	providers map[string]*providerState
	defaults  map[string]Limits
	nextID    atomic.Uint64
	logger    *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits overrides the default budget table.
func WithLimits(limits map[string]Limits) Option {
	return func(l *Limiter) {
		for name, lim := range limits {
			l.defaults[name] = lim
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock sets the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a rate limiter with the default per-provider budgets.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		providers: make(map[string]*providerState),
		defaults:  DefaultLimits(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// state returns the provider state, creating it from defaults on first use.
// Caller holds the mutex.
func (l *Limiter) state(provider string) *providerState {
	st, ok := l.providers[provider]
	if !ok {
		limits, ok := l.defaults[provider]
		if !ok {
			limits = fallbackLimits
		}
		st = &providerState{
			limits:            limits,
			active:            make(map[uint64]*Lease),
			backoffMultiplier: 1,
		}
		l.providers[provider] = st
	}
	return st
}

// evict drops window entries older than 60s. Caller holds the mutex.
func (st *providerState) evict(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(st.requests) && st.requests[i].Before(cutoff) {
		i++
	}
	st.requests = st.requests[i:]

	j := 0
	for j < len(st.tokens) && st.tokens[j].at.Before(cutoff) {
		j++
	}
	st.tokens = st.tokens[j:]
}

func (st *providerState) tokenSum() int {
	sum := 0
	for _, e := range st.tokens {
		sum += e.tokens
	}
	return sum
}

// Acquire blocks until all three budgets admit one more request and no
// backoff is active, then records and returns a new lease. A cancelled
// acquire removes itself from the waiter FIFO without leaking budget.
func (l *Limiter) Acquire(ctx context.Context, provider string, estimatedTokens int) (*Lease, error) {
	for {
		l.mu.Lock()
		st := l.state(provider)
		now := l.now()
		st.evict(now)

		// 1. Cool-off from upstream rate limiting.
		if st.backoffUntil.After(now) {
			wait := st.backoffUntil.Sub(now)
			l.mu.Unlock()
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// 2. Concurrency: suspend on the FIFO until a release signals.
		if len(st.active) >= st.limits.Concurrent {
			w := &waiter{ch: make(chan struct{}, 1)}
			st.waiters = append(st.waiters, w)
			l.mu.Unlock()

			select {
			case <-ctx.Done():
				l.removeWaiter(provider, w)
				return nil, ctx.Err()
			case <-w.ch:
			}
			continue
		}

		// 3. RPM: wait until the oldest request leaves the window.
		if len(st.requests) >= st.limits.RPM {
			wait := st.requests[0].Add(window).Sub(now)
			l.mu.Unlock()
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// 4. TPM: wait until the oldest token entry leaves the window.
		if len(st.tokens) > 0 && st.tokenSum() >= st.limits.TPM {
			wait := st.tokens[0].at.Add(window).Sub(now)
			l.mu.Unlock()
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// 5. Admit.
		lease := l.mint(st, provider, now, estimatedTokens)
		l.mu.Unlock()
		return lease, nil
	}
}

// TryAcquire is the non-blocking variant: nil when any budget is at the
// limit or backoff is active.
func (l *Limiter) TryAcquire(provider string, estimatedTokens int) *Lease {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(provider)
	now := l.now()
	st.evict(now)

	if st.backoffUntil.After(now) {
		return nil
	}
	if len(st.active) >= st.limits.Concurrent {
		return nil
	}
	if len(st.requests) >= st.limits.RPM {
		return nil
	}
	if st.tokenSum() >= st.limits.TPM {
		return nil
	}
	return l.mint(st, provider, now, estimatedTokens)
}

// mint creates a lease and records its window entries. Caller holds the
// mutex and has verified admission.
func (l *Limiter) mint(st *providerState, provider string, now time.Time, estimatedTokens int) *Lease {
	lease := &Lease{
		ID:              l.nextID.Add(1),
		Provider:        provider,
		AcquiredAt:      now,
		EstimatedTokens: estimatedTokens,
	}
	st.active[lease.ID] = lease
	st.requests = append(st.requests, now)
	if estimatedTokens > 0 {
		st.tokens = append(st.tokens, tokenEntry{at: now, tokens: estimatedTokens, leaseID: lease.ID})
	}
	return lease
}

// Release removes the lease, trues up the token window with actualTokens
// (<= 0 leaves the reservation as-is), resets the consecutive-error backoff
// multiplier and wakes the next waiter. Releasing an unknown lease is a
// no-op.
func (l *Limiter) Release(lease *Lease, actualTokens int) {
	if lease == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.providers[lease.Provider]
	if !ok {
		return
	}
	if _, held := st.active[lease.ID]; !held {
		return
	}
	delete(st.active, lease.ID)

	if actualTokens > 0 && actualTokens != lease.EstimatedTokens {
		updated := false
		for i := range st.tokens {
			if st.tokens[i].leaseID == lease.ID {
				st.tokens[i].tokens = actualTokens
				updated = true
				break
			}
		}
		if !updated {
			st.tokens = append(st.tokens, tokenEntry{at: lease.AcquiredAt, tokens: actualTokens, leaseID: lease.ID})
		}
	}

	st.backoffMultiplier = 1

	// Wake the FIFO head; it re-runs the full admission algorithm.
	if len(st.waiters) > 0 {
		w := st.waiters[0]
		st.waiters = st.waiters[1:]
		w.ch <- struct{}{}
	}
}

// UpdateFromError applies an upstream rate-limit signal. retryAfter of zero
// computes the cool-off from the consecutive-error multiplier. Non-rate-limit
// errors are ignored.
func (l *Limiter) UpdateFromError(provider string, retryAfter time.Duration, isRateLimit bool) {
	if !isRateLimit {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(provider)
	delay := retryAfter
	if delay <= 0 {
		delay = defaultBackoffBase * time.Duration(st.backoffMultiplier)
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	st.backoffUntil = l.now().Add(delay)
	if st.backoffMultiplier < maxBackoffMultiplier {
		st.backoffMultiplier *= 2
	}

	l.logger.Debug("Provider backoff",
		"provider", provider,
		"delay", delay,
		"multiplier", st.backoffMultiplier)
}

// GetStatus returns a snapshot of one provider's budget state.
func (l *Limiter) GetStatus(provider string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(provider)
	st.evict(l.now())
	return Status{
		Provider:       provider,
		Limits:         st.limits,
		ActiveLeases:   len(st.active),
		RecentRequests: len(st.requests),
		RecentTokens:   st.tokenSum(),
		QueuedWaiters:  len(st.waiters),
		BackoffUntil:   st.backoffUntil,
	}
}

// GetAllStatus returns snapshots for every provider seen so far.
func (l *Limiter) GetAllStatus() map[string]Status {
	l.mu.Lock()
	names := make([]string, 0, len(l.providers))
	for name := range l.providers {
		names = append(names, name)
	}
	l.mu.Unlock()

	all := make(map[string]Status, len(names))
	for _, name := range names {
		all[name] = l.GetStatus(name)
	}
	return all
}

// SetLimits replaces one provider's budgets. Existing leases are unaffected;
// new admissions use the new limits.
func (l *Limiter) SetLimits(provider string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.defaults[provider] = limits
	if st, ok := l.providers[provider]; ok {
		st.limits = limits
	}
}

// Reset returns one provider to the pristine admission state: no leases, no
// window entries, no backoff. Pending waiters are woken so they re-evaluate.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.providers[provider]
	if !ok {
		return
	}
	waiters := st.waiters
	delete(l.providers, provider)

	for _, w := range waiters {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

// ResetAll resets every provider.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	names := make([]string, 0, len(l.providers))
	for name := range l.providers {
		names = append(names, name)
	}
	l.mu.Unlock()

	for _, name := range names {
		l.Reset(name)
	}
}

// removeWaiter unlinks a cancelled waiter so it cannot inherit a lease. If a
// release already signalled it, the slot is handed to the next waiter.
func (l *Limiter) removeWaiter(provider string, w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.providers[provider]
	if !ok {
		return
	}
	for i, cand := range st.waiters {
		if cand == w {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return
		}
	}

	// Not in the list: a release signalled this waiter concurrently with
	// cancellation. Pass the wake-up on.
	select {
	case <-w.ch:
		if len(st.waiters) > 0 {
			next := st.waiters[0]
			st.waiters = st.waiters[1:]
			next.ch <- struct{}{}
		}
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
