// Package benchmark holds the shared value types threaded between the work
// pool, compile queue, orchestrator and aggregator: execution contexts, work
// items and results, attempts, and per-task comparisons. All values are
// single-owner and immutable after construction.
package benchmark

import (
	"time"

	"github.com/c360studio/albench/llm"
	"github.com/c360studio/albench/sandbox"
	"github.com/c360studio/albench/task"
)

// ExecutionContext is the frozen per-(task, variant) snapshot built once
// before the attempt loop.
type ExecutionContext struct {
	Manifest *task.Manifest `json:"-"`

	TaskID   string `json:"taskId"`
	TaskType string `json:"taskType"`

	// Instructions is the rendered initial prompt.
	Instructions string `json:"instructions"`

	// TargetFile is the generated source file name (e.g. "<taskId>.al").
	TargetFile string `json:"targetFile"`

	PromptTemplate string `json:"promptTemplate"`
	FixTemplate    string `json:"fixTemplate,omitempty"`

	// Effective generation settings after variant overlay.
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`

	SandboxProvider string `json:"sandboxProvider"`
	SandboxName     string `json:"sandboxName"`

	OutputDir string `json:"outputDir,omitempty"`
	Debug     bool   `json:"debug,omitempty"`

	// PromptOverrides are the manifest's named prompt fragments.
	PromptOverrides map[string]string `json:"promptOverrides,omitempty"`

	// EstimatedTokens is the manifest's token budget hint, used for TPM
	// reservation.
	EstimatedTokens int `json:"estimatedTokens,omitempty"`
}

// LLMWorkItem is one generation request handed to the work pool.
type LLMWorkItem struct {
	ID               string              `json:"id"`
	Manifest         *task.Manifest      `json:"-"`
	Provider         string              `json:"provider"`
	Model            string              `json:"model"`
	AttemptNumber    int                 `json:"attemptNumber"`
	PreviousAttempts []*ExecutionAttempt `json:"-"`
	Priority         int                 `json:"priority"`
	CreatedAt        time.Time           `json:"createdAt"`
	Context          *ExecutionContext   `json:"-"`

	// FixInstructions is the rendered repair prompt, set for attempts > 1.
	FixInstructions string `json:"-"`

	// SystemPrompt is the effective system prompt for the variant.
	SystemPrompt string `json:"-"`
}

// LLMWorkResult is the work pool's outcome for one item.
type LLMWorkResult struct {
	WorkItemID string        `json:"workItemId"`
	Success    bool          `json:"success"`
	Code       string        `json:"code,omitempty"`
	Response   *llm.Response `json:"llmResponse,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`

	// ReadyForCompile is true iff Success and the extractor's confidence
	// exceeded 0.5. Advisory: callers may still compile.
	ReadyForCompile bool `json:"readyForCompile"`
}

// CompileWorkItem is one compile+test request handed to the compile queue.
type CompileWorkItem struct {
	ID            string            `json:"id"`
	LLMWorkItemID string            `json:"llmWorkItemId"`
	Code          string            `json:"code"`
	Context       *ExecutionContext `json:"-"`
	AttemptNumber int               `json:"attemptNumber"`
	LLMResponse   *llm.Response     `json:"-"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// CompileWorkResult is the compile queue's outcome for one item.
type CompileWorkResult struct {
	WorkItemID      string                     `json:"workItemId"`
	Compilation     *sandbox.CompilationResult `json:"compilationResult"`
	Test            *sandbox.TestResult        `json:"testResult,omitempty"`
	Duration        time.Duration              `json:"duration"`
	CompileDuration time.Duration              `json:"compileDuration"`
	TestDuration    time.Duration              `json:"testDuration,omitempty"`
}

// ExecutionAttempt records one generate→compile→(test)→score cycle.
type ExecutionAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`

	Prompt        string        `json:"prompt"`
	Response      *llm.Response `json:"llmResponse,omitempty"`
	ExtractedCode string        `json:"extractedCode"`
	CodeLanguage  string        `json:"codeLanguage"`

	Compilation *sandbox.CompilationResult `json:"compilationResult,omitempty"`
	Test        *sandbox.TestResult        `json:"testResult,omitempty"`

	Success        bool     `json:"success"`
	Score          float64  `json:"score"`
	FailureReasons []string `json:"failureReasons,omitempty"`

	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`

	Duration        time.Duration `json:"duration"`
	LLMDuration     time.Duration `json:"llmDuration"`
	CompileDuration time.Duration `json:"compileDuration"`
}

// TaskExecutionResult is the final record for one (task, variant) execution.
type TaskExecutionResult struct {
	TaskID      string `json:"taskId"`
	ExecutionID string `json:"executionId"`

	// VariantID is the executing variant's display id; per-model statistics
	// key on it so two configs of one base model never collide.
	VariantID string              `json:"variantId"`
	Context   *ExecutionContext   `json:"context,omitempty"`
	Attempts  []*ExecutionAttempt `json:"attempts"`

	Success    bool    `json:"success"`
	FinalCode  string  `json:"finalCode,omitempty"`
	FinalScore float64 `json:"finalScore"`

	TotalTokens   int           `json:"totalTokens"`
	TotalCost     float64       `json:"totalCost"`
	TotalDuration time.Duration `json:"totalDuration"`

	// PassedAttemptNumber is the 1-based attempt that passed, 0 if never.
	PassedAttemptNumber int     `json:"passedAttemptNumber"`
	SuccessRate         float64 `json:"successRate"`

	ExecutedAt  time.Time `json:"executedAt"`
	ExecutedBy  string    `json:"executedBy"`
	Environment string    `json:"environment"`
}

// LastAttempt returns the final attempt record, or nil when none were made.
func (r *TaskExecutionResult) LastAttempt() *ExecutionAttempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}

// ParallelTaskResult is the cross-variant record for one task.
type ParallelTaskResult struct {
	TaskID string `json:"taskId"`

	// ModelResults maps variant display id to that variant's result.
	ModelResults map[string]*TaskExecutionResult `json:"modelResults"`

	// Failures maps variant display id to the error that sank the variant.
	Failures map[string]string `json:"failures,omitempty"`

	// PartialSuccess is true when at least one variant produced a result.
	PartialSuccess bool `json:"partialSuccess"`

	Comparison *ModelComparison `json:"comparison,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

// ModelRank is one entry in a task's cross-model ranking.
type ModelRank struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// ModelComparison compares all variants' outcomes on one task.
type ModelComparison struct {
	BestScore     float64     `json:"bestScore"`
	AvgScore      float64     `json:"avgScore"`
	PassingModels []string    `json:"passingModels"`
	FailingModels []string    `json:"failingModels"`
	Ranking       []ModelRank `json:"ranking"`

	// Winner is set iff exactly one variant attains BestScore and
	// BestScore > 0; empty on ties or all-zero.
	Winner string `json:"winner,omitempty"`
}
