package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/albench/aggregate"
	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/config"
	"github.com/c360studio/albench/events"
	"github.com/c360studio/albench/llm"
	"github.com/c360studio/albench/orchestrator"
	"github.com/c360studio/albench/prompt"
	"github.com/c360studio/albench/queue"
	"github.com/c360studio/albench/ratelimit"
	"github.com/c360studio/albench/sandbox"
	"github.com/c360studio/albench/storage"
	"github.com/c360studio/albench/task"
	"github.com/c360studio/albench/variant"
	"github.com/c360studio/albench/workpool"
)

func runCmd() *cobra.Command {
	var (
		tasksDir        string
		taskPattern     string
		models          []string
		label           string
		taskConcurrency int
		resultsDir      string
		abortOnCritical bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(models) == 0 {
				return fmt.Errorf("at least one --model variant is required")
			}
			flags := runFlags{
				tasksDir:        tasksDir,
				taskPattern:     taskPattern,
				models:          models,
				label:           label,
				taskConcurrency: taskConcurrency,
				resultsDir:      resultsDir,
				abortOnCritical: abortOnCritical,
			}
			return runBenchmark(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&tasksDir, "tasks", "tasks", "Directory containing task manifests")
	cmd.Flags().StringVar(&taskPattern, "task-pattern", "", "Glob pattern for task manifests (default **/*.yaml)")
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "Model variant spec (repeatable)")
	cmd.Flags().StringVar(&label, "label", "default", "Run label for result storage")
	cmd.Flags().IntVar(&taskConcurrency, "task-concurrency", 0, "Parallel tasks (0 = from config)")
	cmd.Flags().StringVarP(&resultsDir, "output", "o", "", "Results directory (overrides config)")
	cmd.Flags().BoolVar(&abortOnCritical, "abort-on-critical", false, "Abort the run on the first critical error")
	return cmd
}

type runFlags struct {
	tasksDir        string
	taskPattern     string
	models          []string
	label           string
	taskConcurrency int
	resultsDir      string
	abortOnCritical bool
}

func runBenchmark(ctx context.Context, flags runFlags) error {
	logger := slog.Default()

	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.taskConcurrency > 0 {
		cfg.Run.TaskConcurrency = flags.taskConcurrency
	}
	if flags.resultsDir != "" {
		cfg.Run.ResultsDir = flags.resultsDir
	}
	if flags.abortOnCritical {
		cfg.Run.AbortOnCritical = true
	}

	tasks, err := task.NewLoader(logger).LoadDir(flags.tasksDir, flags.taskPattern)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks found in %s", flags.tasksDir)
	}

	variants := make([]*variant.Variant, 0, len(flags.models))
	for _, spec := range flags.models {
		v, err := variant.Parse(spec)
		if err != nil {
			return err
		}
		variants = append(variants, v)
	}

	provider := sandbox.Get(cfg.Compile.Provider)
	if provider == nil {
		return fmt.Errorf("unknown sandbox provider %q (available: %s)",
			cfg.Compile.Provider, strings.Join(sandbox.List(), ", "))
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.WithLimits(cfg.EffectiveLimits()),
		ratelimit.WithLogger(logger),
	)

	registry := llm.NewRegistry()
	defaultTemp := cfg.LLM.Temperature
	resolver := func(item *benchmark.LLMWorkItem) (workpool.Generator, error) {
		temp := &defaultTemp
		maxTokens := cfg.LLM.MaxTokens
		if item.Context != nil {
			if item.Context.Temperature != nil {
				temp = item.Context.Temperature
			}
			if item.Context.MaxTokens > 0 {
				maxTokens = item.Context.MaxTokens
			}
		}
		return registry.Resolve(item.Provider, item.Model, temp, maxTokens)
	}

	pool := workpool.NewPool(cfg.LLM.MaxConcurrentCalls, limiter, resolver,
		workpool.WithLogger(logger))

	compilePool, err := queue.NewPool(provider, cfg.Compile.Sandboxes,
		queue.WithMaxQueueSize(cfg.Compile.MaxQueueSize),
		queue.WithTimeout(cfg.Compile.QueueTimeout),
		queue.WithQueueLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create compile queues: %w", err)
	}
	defer compilePool.Close()

	agg := aggregate.NewAggregator()

	orch := orchestrator.New(pool, compilePool, agg, prompt.NewRenderer(),
		orchestrator.Options{
			TaskConcurrency: cfg.Run.TaskConcurrency,
			SandboxProvider: cfg.Compile.Provider,
			SandboxName:     cfg.Compile.Sandboxes[0],
			OutputDir:       cfg.Run.ResultsDir,
			ExecutedBy:      cfg.Run.ExecutedBy,
			Environment:     cfg.Run.Environment,
			AbortOnCritical: cfg.Run.AbortOnCritical,
		},
		orchestrator.WithLogger(logger),
	)

	// Event sinks: console progress, optional NATS, Prometheus.
	orch.Subscribe(consoleListener(logger))

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return wrapNATSError(err, cfg.NATS.URL)
		}
		defer nc.Close()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}
	orch.Subscribe(events.NATSListener(nc, logger))

	promReg := prometheus.NewRegistry()
	metrics := events.NewMetrics(promReg)
	orch.Subscribe(metrics.Listener())
	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr, promReg, logger)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	logger.Info("Starting benchmark run",
		"tasks", len(tasks),
		"variants", len(variants),
		"label", flags.label)
	start := time.Now()

	report, runErr := orch.Run(signalCtx, tasks, variants)

	store := storage.NewFileStore(cfg.Run.ResultsDir)
	resultPath, err := store.SaveRun(flags.label, report.Results)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	logger.Info("Results written", "path", resultPath)

	summary := agg.BuildSummary()
	if data, err := summary.Encode(); err == nil {
		summaryPath := filepath.Join(filepath.Dir(resultPath), "summary.json")
		if werr := os.WriteFile(summaryPath, data, 0o644); werr != nil {
			logger.Warn("Write summary", "error", werr)
		}
	}

	if nc != nil {
		archiveRun(signalCtx, nc, flags.label, resultPath, summary, logger)
	}

	printSummary(report, time.Since(start))
	return runErr
}

// archiveRun records the run summary in the NATS KV archive. Failure is not
// fatal; the on-disk results remain authoritative.
func archiveRun(ctx context.Context, nc *nats.Conn, label, resultPath string, summary *aggregate.Summary, logger *slog.Logger) {
	js, err := jetstream.New(nc)
	if err != nil {
		logger.Warn("JetStream unavailable, skipping run archive", "error", err)
		return
	}
	archive, err := storage.NewArchive(ctx, js)
	if err != nil {
		logger.Warn("Create run archive", "error", err)
		return
	}
	id, err := archive.Put(ctx, &storage.RunRecord{
		Label:      label,
		ResultFile: resultPath,
		Summary:    summary,
	})
	if err != nil {
		logger.Warn("Archive run", "error", err)
		return
	}
	logger.Info("Run archived", "id", id)
}

// consoleListener logs the event stream for interactive runs.
func consoleListener(logger *slog.Logger) events.Listener {
	return func(ev events.Event) {
		switch ev.Kind {
		case events.TaskStarted:
			logger.Info("Task started", "task", ev.TaskID)
		case events.Result:
			logger.Info("Variant finished",
				"task", ev.TaskID,
				"variant", ev.Variant,
				"success", ev.Success,
				"score", ev.Score)
		case events.Progress:
			if ev.Progress != nil {
				logger.Info("Progress",
					"completed", ev.Progress.CompletedTasks,
					"total", ev.Progress.TotalTasks,
					"activeLLM", ev.Progress.ActiveLLMCalls,
					"compileQueue", ev.Progress.CompileQueueLen,
					"eta", ev.Progress.EstimatedTimeRem.Round(time.Second))
			}
		case events.Error:
			logger.Warn("Variant failed", "task", ev.TaskID, "variant", ev.Variant, "error", ev.Message)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", "error", err)
	}
}

func printSummary(report *orchestrator.RunReport, elapsed time.Duration) {
	stats := report.Summary

	fmt.Println()
	fmt.Printf("Run complete: %d task(s), %d result(s) in %s\n",
		stats.TaskCount, stats.ResultCount, elapsed.Round(time.Second))
	fmt.Printf("Overall pass rate %.0f%%, average score %.1f\n",
		stats.OverallPassRate*100, stats.AverageScore)
	fmt.Printf("Tokens: %d  Cost: $%.4f\n", stats.TotalTokens, stats.TotalCost)
	fmt.Println()

	ids := make([]string, 0, len(stats.Models))
	for id := range stats.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ms := stats.Models[id]
		fmt.Printf("  %-50s passed %d/%d  avg %.1f  attempts %.1f  $%.4f\n",
			id, ms.TasksPassed, ms.TasksPassed+ms.TasksFailed, ms.AvgScore, ms.AvgAttempts, ms.Cost)
	}

	for _, tr := range report.TaskResults {
		if tr.Comparison != nil && tr.Comparison.Winner != "" {
			fmt.Printf("  %s: winner %s (%.1f)\n", tr.TaskID, tr.Comparison.Winner, tr.Comparison.BestScore)
		}
	}
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or leave nats.url empty to run without event publishing.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
