package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MockProvider is an in-memory sandbox for tests and --dry-run. Compilation
// succeeds unless the code contains "COMPILE_FAIL"; tests fail when it
// contains "TEST_FAIL". An optional latency simulates slow sandboxes.
type MockProvider struct {
	// Latency is added to every compile and test call.
	Latency time.Duration

	// CompileErr and TestErr, when set, are returned as call errors
	// (sandbox exceptions, not compile failures).
	CompileErr error
	TestErr    error

	mu       sync.Mutex
	compiles int
	tests    int
}

func init() {
	Register("mock", NewMockProvider())
}

// NewMockProvider creates a mock sandbox provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// CompileProject simulates a compilation.
func (m *MockProvider) CompileProject(ctx context.Context, _ string, project *Project) (*CompilationResult, error) {
	m.mu.Lock()
	m.compiles++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.CompileErr != nil {
		return nil, m.CompileErr
	}

	code := readProjectSource(project)
	if strings.Contains(code, "COMPILE_FAIL") {
		return &CompilationResult{
			Success: false,
			Errors: []CompileError{{
				Code:     "AL0001",
				Message:  "forced compile failure",
				File:     project.MainFile,
				Line:     1,
				Column:   1,
				Severity: "error",
			}},
			Duration: m.Latency,
		}, nil
	}

	return &CompilationResult{
		Success:      true,
		Output:       "Build succeeded",
		Duration:     m.Latency,
		ArtifactPath: project.Dir + "/" + project.Name + ".app",
	}, nil
}

// RunTests simulates a test run.
func (m *MockProvider) RunTests(ctx context.Context, _ string, project *Project) (*TestResult, error) {
	m.mu.Lock()
	m.tests++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.TestErr != nil {
		return nil, m.TestErr
	}

	code := readProjectSource(project)
	if strings.Contains(code, "TEST_FAIL") {
		return &TestResult{
			Success:     false,
			TotalTests:  2,
			PassedTests: 1,
			FailedTests: 1,
			Duration:    m.Latency,
			Results: []TestCaseResult{
				{Name: "TestOne", Passed: true},
				{Name: "TestTwo", Passed: false, Error: "assertion failed"},
			},
		}, nil
	}

	return &TestResult{
		Success:     true,
		TotalTests:  2,
		PassedTests: 2,
		Duration:    m.Latency,
		Results: []TestCaseResult{
			{Name: "TestOne", Passed: true},
			{Name: "TestTwo", Passed: true},
		},
	}, nil
}

// Calls returns the number of compile and test invocations.
func (m *MockProvider) Calls() (compiles, tests int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compiles, m.tests
}

// readProjectSource reads the materialized main file; missing files read as
// empty, which the mock treats as compilable.
func readProjectSource(project *Project) string {
	if project == nil || project.Dir == "" || project.MainFile == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(project.Dir, project.MainFile))
	if err != nil {
		return ""
	}
	return string(data)
}

func (m *MockProvider) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Latency):
		return nil
	}
}
