package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/albench/aggregate"
	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/llm"
)

// longCode is long enough to not be classified as a malformed response.
const longCode = "codeunit 50100 Sample { procedure Run() begin end; }"

func passedResult(taskID, variantID string, attempt int, score float64) *benchmark.TaskExecutionResult {
	return &benchmark.TaskExecutionResult{
		TaskID:              taskID,
		VariantID:           variantID,
		Success:             true,
		FinalScore:          score,
		PassedAttemptNumber: attempt,
		Attempts:            attemptsUpTo(attempt, longCode, nil),
		TotalTokens:         100,
		TotalCost:           0.01,
		TotalDuration:       2 * time.Second,
	}
}

func failedResult(taskID, variantID string, score float64, lastCode string, reasons []string) *benchmark.TaskExecutionResult {
	return &benchmark.TaskExecutionResult{
		TaskID:        taskID,
		VariantID:     variantID,
		FinalScore:    score,
		Attempts:      attemptsUpTo(2, lastCode, reasons),
		TotalTokens:   50,
		TotalDuration: time.Second,
	}
}

func attemptsUpTo(n int, lastCode string, lastReasons []string) []*benchmark.ExecutionAttempt {
	attempts := make([]*benchmark.ExecutionAttempt, n)
	for i := range attempts {
		attempts[i] = &benchmark.ExecutionAttempt{
			AttemptNumber: i + 1,
			ExtractedCode: longCode,
			Response:      &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}},
		}
	}
	attempts[n-1].ExtractedCode = lastCode
	attempts[n-1].FailureReasons = lastReasons
	return attempts
}

func TestFinalizeOverallNumbers(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(passedResult("t1", "openai/gpt-4o", 1, 100))
	agg.Add(passedResult("t2", "openai/gpt-4o", 2, 90))
	agg.Add(failedResult("t1", "anthropic/claude-sonnet-4", 31.25, longCode,
		[]string{"Compilation failed: syntax error"}))

	stats := agg.Finalize()

	assert.Equal(t, 2, stats.TaskCount)
	assert.Equal(t, 3, stats.ResultCount)
	assert.InDelta(t, 2.0/3.0, stats.OverallPassRate, 0.001)
	assert.InDelta(t, (100+90+31.25)/3, stats.AverageScore, 0.001)
	assert.Equal(t, 250, stats.TotalTokens)
	assert.InDelta(t, 0.02, stats.TotalCost, 0.0001)
	assert.Equal(t, 5*time.Second, stats.TotalDuration)
	assert.InDelta(t, 2.5, stats.SecondsPerTask, 0.001)
}

func TestFinalizePassByAttemptIsCumulative(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(passedResult("t1", "m", 1, 100))
	agg.Add(passedResult("t2", "m", 2, 90))
	agg.Add(passedResult("t3", "m", 3, 80))

	stats := agg.Finalize()

	assert.Equal(t, 1, stats.PassNum1)
	// Pass@2 counts first and second attempt passes; attempt 3 is in neither.
	assert.Equal(t, 2, stats.PassNum2)
	assert.InDelta(t, 1.0/3.0, stats.PassRate1, 0.001)
	assert.InDelta(t, 2.0/3.0, stats.PassRate2, 0.001)

	ms := stats.Models["m"]
	require.NotNil(t, ms)
	assert.Equal(t, 1, ms.PassedOnAttempt1)
	assert.Equal(t, 2, ms.PassedOnAttempt2)
	assert.InDelta(t, 2.0, ms.AvgAttempts, 0.001)
}

func TestFinalizeFailureClassification(t *testing.T) {
	agg := aggregate.NewAggregator()
	// Short extracted code on the last attempt: malformed.
	agg.Add(failedResult("t1", "m", 0, "nope", []string{"Compilation failed"}))
	// LLM call failure outranks a test failure on the same attempt.
	agg.Add(failedResult("t2", "m", 0, longCode, []string{"LLM call failed: timeout", "Tests failed"}))
	// Test failure outranks compile failure.
	agg.Add(failedResult("t3", "m", 0, longCode, []string{"Compilation failed", "Tests failed: TestX"}))
	agg.Add(failedResult("t4", "m", 0, longCode, []string{"Compilation failed: AL0118"}))

	stats := agg.Finalize()

	assert.Equal(t, 2, stats.TotalMalformed)
	assert.Equal(t, 1, stats.TotalTestFailures)
	assert.Equal(t, 1, stats.TotalCompileErrors)

	ms := stats.Models["m"]
	require.NotNil(t, ms)
	assert.Equal(t, 2, ms.MalformedResponses)
	assert.Equal(t, 1, ms.TestFailures)
	assert.Equal(t, 1, ms.CompileFailures)
}

func TestFinalizeClassifiesFromLastAttempt(t *testing.T) {
	// Earlier attempts failed compile, the last one failed tests: counts as a
	// test failure.
	r := failedResult("t1", "m", 0, longCode, []string{"Tests failed: TestPost"})
	r.Attempts[0].FailureReasons = []string{"Compilation failed"}

	agg := aggregate.NewAggregator()
	agg.Add(r)
	stats := agg.Finalize()

	assert.Equal(t, 1, stats.TotalTestFailures)
	assert.Zero(t, stats.TotalCompileErrors)
}

func TestFinalizeBestModelPerTask(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(failedResult("t1", "first", 0, longCode, nil))
	agg.Add(failedResult("t1", "second", 0, longCode, nil))
	agg.Add(passedResult("t1", "third", 1, 80))

	stats := agg.Finalize()

	ts := stats.Tasks["t1"]
	require.NotNil(t, ts)
	// First result holds best-model until strictly beaten; equal scores do
	// not displace it.
	assert.Equal(t, "third", ts.BestModel)
	assert.Equal(t, 80.0, ts.BestScore)
	assert.Equal(t, 1, ts.ModelsPassed)
	assert.Equal(t, 2, ts.ModelsFailed)
}

func TestFinalizeIdempotent(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(passedResult("t1", "m", 1, 100))
	agg.Add(failedResult("t2", "m", 20, longCode, []string{"Compilation failed"}))

	assert.Equal(t, agg.Finalize(), agg.Finalize())
}

func TestFinalizeEmpty(t *testing.T) {
	stats := aggregate.NewAggregator().Finalize()

	assert.Zero(t, stats.ResultCount)
	assert.Zero(t, stats.OverallPassRate)
	assert.Empty(t, stats.Models)
	assert.Empty(t, stats.Tasks)
}

func TestAddParallelTaskResult(t *testing.T) {
	agg := aggregate.NewAggregator()

	results := map[string]*benchmark.TaskExecutionResult{
		"b/model": passedResult("t1", "b/model", 1, 100),
		"a/model": failedResult("t1", "a/model", 25, longCode, nil),
	}
	agg.AddParallelTaskResult(&benchmark.ParallelTaskResult{
		TaskID:       "t1",
		ModelResults: results,
		Comparison:   aggregate.BuildTaskComparison("t1", results),
	})

	collected := agg.Results()
	require.Len(t, collected, 2)
	// Ingestion order is sorted by variant id for determinism.
	assert.Equal(t, "a/model", collected[0].VariantID)
	assert.Equal(t, "b/model", collected[1].VariantID)
	require.Len(t, agg.Comparisons(), 1)
	assert.Equal(t, "b/model", agg.Comparisons()[0].Winner)
}

func TestAddNil(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(nil)
	agg.AddParallelTaskResult(nil)
	assert.Empty(t, agg.Results())
}
