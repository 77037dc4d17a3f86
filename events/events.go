// Package events defines the orchestrator's typed event stream and its sinks.
// Listeners are fire-and-forget: a panicking listener is isolated so emission
// to the others continues, and delivered order per listener matches emission
// order.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates event types.
type Kind string

const (
	TaskStarted     Kind = "task_started"
	LLMStarted      Kind = "llm_started"
	LLMCompleted    Kind = "llm_completed"
	CompileQueued   Kind = "compile_queued"
	CompileStarted  Kind = "compile_started"
	CompileComplete Kind = "compile_completed"
	Result          Kind = "result"
	TaskCompleted   Kind = "task_completed"
	Progress        Kind = "progress"
	Error           Kind = "error"
)

// ProgressInfo is the payload of a Progress event.
type ProgressInfo struct {
	TotalTasks       int           `json:"totalTasks"`
	CompletedTasks   int           `json:"completedTasks"`
	ActiveLLMCalls   int           `json:"activeLLMCalls"`
	CompileQueueLen  int           `json:"compileQueueLength"`
	Errors           []string      `json:"errors,omitempty"`
	ElapsedTime      time.Duration `json:"elapsedTime"`
	EstimatedTimeRem time.Duration `json:"estimatedTimeRemaining,omitempty"`
}

// Event is one typed orchestrator event.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	TaskID  string `json:"taskId,omitempty"`
	Variant string `json:"variant,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Success accompanies llm_completed and compile_completed.
	Success bool `json:"success,omitempty"`

	// QueueLength accompanies compile_queued.
	QueueLength int `json:"queueLength,omitempty"`

	// Score accompanies result events.
	Score float64 `json:"score,omitempty"`

	// Message carries error text for error events.
	Message string `json:"message,omitempty"`

	// Progress accompanies progress events.
	Progress *ProgressInfo `json:"progress,omitempty"`
}

// Listener consumes events. Listeners must not block indefinitely.
type Listener func(Event)

// Emitter fans events out to registered listeners.
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
}

// NewEmitter creates an emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers a listener.
func (e *Emitter) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Emit delivers the event to every listener in registration order. A
// panicking listener must not abort emission to the others.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()

	for _, l := range listeners {
		e.deliver(l, ev)
	}
}

func (e *Emitter) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Event listener panicked",
				"kind", ev.Kind,
				"panic", r)
		}
	}()
	l(ev)
}
