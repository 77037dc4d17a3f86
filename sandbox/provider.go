// Package sandbox defines the compile-and-test sandbox contract consumed by
// the compile queue, plus a registry of named provider implementations.
package sandbox

import (
	"context"
	"sync"
	"time"
)

// Project is a materialized temporary project handed to a sandbox.
type Project struct {
	// ID is the auto-generated project identifier.
	ID string `json:"id"`

	// Name is the human-readable project name (usually the task id).
	Name string `json:"name"`

	// Dir is the temporary directory holding the project files.
	Dir string `json:"dir"`

	// MainFile is the generated source file name within Dir.
	MainFile string `json:"mainFile"`

	// Platform and Runtime tag the target toolchain.
	Platform string `json:"platform"`
	Runtime  string `json:"runtime"`

	// TestApp names the test application to run, empty for compile-only.
	TestApp string `json:"testApp,omitempty"`
}

// CompileError describes one diagnostic from the compiler.
type CompileError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
}

// CompilationResult is the outcome of compiling a project.
type CompilationResult struct {
	Success      bool           `json:"success"`
	Errors       []CompileError `json:"errors,omitempty"`
	Warnings     []CompileError `json:"warnings,omitempty"`
	Output       string         `json:"output,omitempty"`
	Duration     time.Duration  `json:"duration"`
	ArtifactPath string         `json:"artifactPath,omitempty"`
}

// TestCaseResult is the outcome of one test case.
type TestCaseResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TestResult is the outcome of running a project's test app.
type TestResult struct {
	Success     bool             `json:"success"`
	TotalTests  int              `json:"totalTests"`
	PassedTests int              `json:"passedTests"`
	FailedTests int              `json:"failedTests"`
	Duration    time.Duration    `json:"duration"`
	Results     []TestCaseResult `json:"results,omitempty"`
	Output      string           `json:"output,omitempty"`
}

// Provider is the compile-and-test sandbox contract. Implementations own
// container lifecycle; calls against one sandbox name must be treated as
// non-reentrant by callers (the compile queue serializes them).
type Provider interface {
	// CompileProject compiles the project in the named sandbox.
	CompileProject(ctx context.Context, sandboxName string, project *Project) (*CompilationResult, error)

	// RunTests runs the project's test app in the named sandbox.
	RunTests(ctx context.Context, sandboxName string, project *Project) (*TestResult, error)
}

var (
	registry   = make(map[string]Provider)
	registryMu sync.RWMutex
)

// Register adds a named provider implementation.
func Register(name string, p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = p
}

// Get retrieves a provider by name, or nil.
func Get(name string) Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// List returns all registered provider names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
