package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Prometheus sink for the event stream.
type Metrics struct {
	tasksStarted    prometheus.Counter
	tasksCompleted  prometheus.Counter
	llmCalls        *prometheus.CounterVec
	compileOutcomes *prometheus.CounterVec
	attemptScores   prometheus.Histogram
	compileQueueLen prometheus.Gauge
	activeLLMCalls  prometheus.Gauge
	errorsTotal     prometheus.Counter
}

// NewMetrics creates the metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "albench",
			Name:      "tasks_started_total",
			Help:      "Benchmark tasks started.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "albench",
			Name:      "tasks_completed_total",
			Help:      "Benchmark tasks completed.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "albench",
			Name:      "llm_calls_total",
			Help:      "LLM generation calls by outcome.",
		}, []string{"outcome"}),
		compileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "albench",
			Name:      "compiles_total",
			Help:      "Compile operations by outcome.",
		}, []string{"outcome"}),
		attemptScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "albench",
			Name:      "attempt_score",
			Help:      "Normalized attempt scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		compileQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "albench",
			Name:      "compile_queue_length",
			Help:      "Pending compile queue entries.",
		}),
		activeLLMCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "albench",
			Name:      "active_llm_calls",
			Help:      "In-flight LLM calls.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "albench",
			Name:      "errors_total",
			Help:      "Orchestrator error events.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.tasksStarted, m.tasksCompleted, m.llmCalls, m.compileOutcomes,
			m.attemptScores, m.compileQueueLen, m.activeLLMCalls, m.errorsTotal,
		)
	}
	return m
}

// Listener returns the event listener feeding these metrics.
func (m *Metrics) Listener() Listener {
	return func(ev Event) {
		switch ev.Kind {
		case TaskStarted:
			m.tasksStarted.Inc()
		case TaskCompleted:
			m.tasksCompleted.Inc()
		case LLMCompleted:
			m.llmCalls.WithLabelValues(outcome(ev.Success)).Inc()
		case CompileQueued:
			m.compileQueueLen.Set(float64(ev.QueueLength))
		case CompileComplete:
			m.compileOutcomes.WithLabelValues(outcome(ev.Success)).Inc()
		case Result:
			m.attemptScores.Observe(ev.Score)
		case Progress:
			if ev.Progress != nil {
				m.activeLLMCalls.Set(float64(ev.Progress.ActiveLLMCalls))
				m.compileQueueLen.Set(float64(ev.Progress.CompileQueueLen))
			}
		case Error:
			m.errorsTotal.Inc()
		}
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
