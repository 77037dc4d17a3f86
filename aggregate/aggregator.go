// Package aggregate folds task execution results into per-model, per-task and
// run-level statistics, and computes cross-model comparisons per task.
package aggregate

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/albench/benchmark"
)

// malformedCodeThreshold: a last attempt whose trimmed extracted code is
// shorter than this is classified as a malformed response.
const malformedCodeThreshold = 20

// ModelStats is the per-variant roll-up.
type ModelStats struct {
	TasksPassed int     `json:"tasksPassed"`
	TasksFailed int     `json:"tasksFailed"`
	AvgScore    float64 `json:"avgScore"`
	Tokens      int     `json:"tokens"`
	Cost        float64 `json:"cost"`
	AvgAttempts float64 `json:"avgAttempts"`

	// PassedOnAttempt2 is cumulative: tasks passed by the 2nd attempt.
	// Passes on attempt >= 3 are counted in neither bucket.
	PassedOnAttempt1 int `json:"passedOnAttempt1"`
	PassedOnAttempt2 int `json:"passedOnAttempt2"`

	CompileFailures    int `json:"compileFailures"`
	TestFailures       int `json:"testFailures"`
	MalformedResponses int `json:"malformedResponses"`
}

// TaskStats is the per-task roll-up across variants.
type TaskStats struct {
	ModelsPassed int     `json:"modelsPassed"`
	ModelsFailed int     `json:"modelsFailed"`
	AvgScore     float64 `json:"avgScore"`
	BestScore    float64 `json:"bestScore"`
	BestModel    string  `json:"bestModel,omitempty"`
}

// RunStats is the finalized run-level summary.
type RunStats struct {
	TaskCount       int     `json:"taskCount"`
	ResultCount     int     `json:"resultCount"`
	OverallPassRate float64 `json:"overallPassRate"`
	AverageScore    float64 `json:"averageScore"`

	TotalTokens      int           `json:"totalTokens"`
	PromptTokens     int           `json:"promptTokens"`
	CompletionTokens int           `json:"completionTokens"`
	TotalCost        float64       `json:"totalCost"`
	TotalDuration    time.Duration `json:"totalDuration"`
	SecondsPerTask   float64       `json:"secondsPerTask"`

	PassNum1  int     `json:"passNum1"`
	PassNum2  int     `json:"passNum2"`
	PassRate1 float64 `json:"passRate1"`
	PassRate2 float64 `json:"passRate2"`

	TotalCompileErrors int `json:"totalCompileErrors"`
	TotalTestFailures  int `json:"totalTestFailures"`
	TotalMalformed     int `json:"totalMalformed"`

	Models map[string]*ModelStats `json:"models"`
	Tasks  map[string]*TaskStats  `json:"tasks"`
}

// Aggregator collects results. Safe for concurrent use; the orchestrator is
// the expected sole writer but sinks may read at any time.
type Aggregator struct {
	mu          sync.Mutex
	results     []*benchmark.TaskExecutionResult
	comparisons []*benchmark.ModelComparison
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add appends one result.
func (a *Aggregator) Add(result *benchmark.TaskExecutionResult) {
	if result == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// AddParallelTaskResult stores the cross-model comparison and appends each
// nested model result.
func (a *Aggregator) AddParallelTaskResult(taskResult *benchmark.ParallelTaskResult) {
	if taskResult == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if taskResult.Comparison != nil {
		a.comparisons = append(a.comparisons, taskResult.Comparison)
	}

	// Deterministic ingestion order.
	ids := make([]string, 0, len(taskResult.ModelResults))
	for id := range taskResult.ModelResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a.results = append(a.results, taskResult.ModelResults[id])
	}
}

// Results returns a copy of the collected results.
func (a *Aggregator) Results() []*benchmark.TaskExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*benchmark.TaskExecutionResult, len(a.results))
	copy(out, a.results)
	return out
}

// Comparisons returns a copy of the stored comparisons.
func (a *Aggregator) Comparisons() []*benchmark.ModelComparison {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*benchmark.ModelComparison, len(a.comparisons))
	copy(out, a.comparisons)
	return out
}

// Finalize computes the run statistics. Idempotent: calling it twice on an
// unchanged aggregator yields equal stats.
func (a *Aggregator) Finalize() *RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := &RunStats{
		Models: make(map[string]*ModelStats),
		Tasks:  make(map[string]*TaskStats),
	}

	type modelAcc struct {
		scoreSum   float64
		attemptSum float64
		count      int
	}
	type taskAcc struct {
		scoreSum float64
		count    int
	}
	modelAccs := make(map[string]*modelAcc)
	taskAccs := make(map[string]*taskAcc)

	var scoreSum float64
	passed := 0

	for _, r := range a.results {
		stats.ResultCount++
		scoreSum += r.FinalScore
		stats.TotalTokens += r.TotalTokens
		stats.TotalCost += r.TotalCost
		stats.TotalDuration += r.TotalDuration
		for _, att := range r.Attempts {
			if att.Response != nil {
				stats.PromptTokens += att.Response.Usage.PromptTokens
				stats.CompletionTokens += att.Response.Usage.CompletionTokens
			}
		}

		// Per-model
		ms := stats.Models[r.VariantID]
		if ms == nil {
			ms = &ModelStats{}
			stats.Models[r.VariantID] = ms
			modelAccs[r.VariantID] = &modelAcc{}
		}
		acc := modelAccs[r.VariantID]
		acc.count++
		acc.scoreSum += r.FinalScore
		ms.Tokens += r.TotalTokens
		ms.Cost += r.TotalCost

		if r.Success {
			passed++
			ms.TasksPassed++
			acc.attemptSum += float64(r.PassedAttemptNumber)
			if r.PassedAttemptNumber == 1 {
				ms.PassedOnAttempt1++
				stats.PassNum1++
			}
			if r.PassedAttemptNumber >= 1 && r.PassedAttemptNumber <= 2 {
				ms.PassedOnAttempt2++
				stats.PassNum2++
			}
		} else {
			ms.TasksFailed++
			acc.attemptSum += float64(len(r.Attempts))
			switch classifyFailure(r.LastAttempt()) {
			case failureMalformed:
				ms.MalformedResponses++
				stats.TotalMalformed++
			case failureTest:
				ms.TestFailures++
				stats.TotalTestFailures++
			case failureCompile:
				ms.CompileFailures++
				stats.TotalCompileErrors++
			}
		}

		// Per-task
		ts := stats.Tasks[r.TaskID]
		if ts == nil {
			ts = &TaskStats{}
			stats.Tasks[r.TaskID] = ts
			taskAccs[r.TaskID] = &taskAcc{}
		}
		tacc := taskAccs[r.TaskID]
		tacc.count++
		tacc.scoreSum += r.FinalScore
		if r.Success {
			ts.ModelsPassed++
		} else {
			ts.ModelsFailed++
		}
		// BestModel is the first result attaining the best score; later
		// results replace it only with a strictly higher score.
		if tacc.count == 1 || r.FinalScore > ts.BestScore {
			ts.BestScore = r.FinalScore
			ts.BestModel = r.VariantID
		}
	}

	for id, acc := range modelAccs {
		ms := stats.Models[id]
		if acc.count > 0 {
			ms.AvgScore = acc.scoreSum / float64(acc.count)
			ms.AvgAttempts = acc.attemptSum / float64(acc.count)
		}
	}
	for id, acc := range taskAccs {
		if acc.count > 0 {
			stats.Tasks[id].AvgScore = acc.scoreSum / float64(acc.count)
		}
	}

	stats.TaskCount = len(stats.Tasks)
	if stats.ResultCount > 0 {
		stats.OverallPassRate = float64(passed) / float64(stats.ResultCount)
		stats.AverageScore = scoreSum / float64(stats.ResultCount)
		stats.PassRate1 = float64(stats.PassNum1) / float64(stats.ResultCount)
		stats.PassRate2 = float64(stats.PassNum2) / float64(stats.ResultCount)
	}
	if stats.TaskCount > 0 {
		stats.SecondsPerTask = stats.TotalDuration.Seconds() / float64(stats.TaskCount)
	}
	return stats
}

type failureKind int

const (
	failureUnclassified failureKind = iota
	failureMalformed
	failureTest
	failureCompile
)

// classifyFailure buckets a failed execution by its last attempt.
func classifyFailure(last *benchmark.ExecutionAttempt) failureKind {
	if last == nil {
		return failureMalformed
	}
	if len(strings.TrimSpace(last.ExtractedCode)) < malformedCodeThreshold {
		return failureMalformed
	}
	for _, reason := range last.FailureReasons {
		if strings.Contains(reason, "LLM call failed") {
			return failureMalformed
		}
	}
	for _, reason := range last.FailureReasons {
		if strings.Contains(reason, "Tests failed") {
			return failureTest
		}
	}
	for _, reason := range last.FailureReasons {
		if strings.Contains(reason, "Compilation failed") {
			return failureCompile
		}
	}
	return failureUnclassified
}

// BuildTaskComparison produces the cross-model comparison for one task.
// Ranks are 1-based dense over descending scores; the winner is assigned iff
// exactly one variant ties for first place and that score is positive.
func BuildTaskComparison(taskID string, modelResults map[string]*benchmark.TaskExecutionResult) *benchmark.ModelComparison {
	cmp := &benchmark.ModelComparison{}
	if len(modelResults) == 0 {
		return cmp
	}

	type scored struct {
		model string
		score float64
	}
	entries := make([]scored, 0, len(modelResults))
	var sum float64
	for id, r := range modelResults {
		entries = append(entries, scored{model: id, score: r.FinalScore})
		sum += r.FinalScore
		if r.Success {
			cmp.PassingModels = append(cmp.PassingModels, id)
		} else {
			cmp.FailingModels = append(cmp.FailingModels, id)
		}
	}
	sort.Strings(cmp.PassingModels)
	sort.Strings(cmp.FailingModels)

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].model < entries[j].model
	})

	rank := 0
	prev := -1.0
	for i, e := range entries {
		if i == 0 || e.score != prev {
			rank++
			prev = e.score
		}
		cmp.Ranking = append(cmp.Ranking, benchmark.ModelRank{Model: e.model, Score: e.score, Rank: rank})
	}

	cmp.BestScore = entries[0].score
	cmp.AvgScore = sum / float64(len(entries))

	topCount := 0
	for _, e := range entries {
		if e.score == cmp.BestScore {
			topCount++
		}
	}
	if topCount == 1 && cmp.BestScore > 0 {
		cmp.Winner = entries[0].model
	}
	return cmp
}
