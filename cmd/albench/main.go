// Package main provides the albench binary entry point.
// Albench benchmarks LLM code generation for Microsoft Dynamics AL:
// it fans tasks out across model variants, compiles and tests each
// generation in a sandbox, and scores the outcomes.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/albench/llm/providers"

	"github.com/c360studio/albench/config"
	"github.com/c360studio/albench/task"
	"github.com/c360studio/albench/variant"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "albench"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "albench",
		Short: "LLM benchmark harness for AL code generation",
		Long: `Albench runs code-generation benchmarks against multiple LLM variants
in parallel.

For each task, every variant goes through up to max_attempts
generate -> compile -> test -> score cycles. Compilations are serialized
per sandbox, LLM calls respect per-provider rate limits, and results are
aggregated into per-model and per-task statistics.

A model variant is written as provider/model with optional config:
  anthropic/claude-sonnet-4
  openai/gpt-4o@temp=0.2;tokens=8192`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Environment files are optional.
			_ = godotenv.Load()
			configureLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func configureLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func listCmd() *cobra.Command {
	var (
		tasksDir    string
		taskPattern string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List benchmark tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := task.NewLoader(slog.Default())
			tasks, err := loader.LoadDir(tasksDir, taskPattern)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}
			for _, m := range tasks {
				tests := ""
				if m.HasTests() {
					tests = " [tests]"
				}
				fmt.Printf("%-30s attempts=%d%s  %s\n", m.ID, m.MaxAttempts, tests, m.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksDir, "tasks", "tasks", "Directory containing task manifests")
	cmd.Flags().StringVar(&taskPattern, "task-pattern", "", "Glob pattern for task manifests (default **/*.yaml)")
	return cmd
}

func validateCmd() *cobra.Command {
	var (
		tasksDir    string
		taskPattern string
		models      []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate task manifests and variant specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := task.NewLoader(slog.Default())
			tasks, err := loader.LoadDir(tasksDir, taskPattern)
			if err != nil {
				return err
			}
			fmt.Printf("%d task(s) valid\n", len(tasks))

			for _, spec := range models {
				v, err := variant.Parse(spec)
				if err != nil {
					return err
				}
				fmt.Printf("variant %s -> %s\n", spec, v.DisplayID())
			}

			loaderCfg := config.NewLoader(slog.Default())
			if _, err := loaderCfg.Load(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Println("config valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksDir, "tasks", "tasks", "Directory containing task manifests")
	cmd.Flags().StringVar(&taskPattern, "task-pattern", "", "Glob pattern for task manifests (default **/*.yaml)")
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "Model variant specs to validate")
	return cmd
}
