package benchmark

import (
	"strings"

	"github.com/c360studio/albench/sandbox"
	"github.com/c360studio/albench/task"
)

// Scoring weights per category. Max score is the sum of categories the task
// enables; the attempt score is normalized to 0-100 against that max.
const (
	compileWeight   = 50
	testWeight      = 30
	containsWeight  = 10
	forbiddenWeight = 10
)

// ScoreAttempt computes the normalized 0-100 score for one attempt.
// Compilation always participates; tests only when the task names a test app;
// pattern categories only when declared.
func ScoreAttempt(expected task.Expected, code string, compilation *sandbox.CompilationResult, test *sandbox.TestResult) float64 {
	maxScore := compileWeight
	score := 0

	if compilation != nil && compilation.Success {
		score += compileWeight
	}

	if expected.TestApp != "" {
		maxScore += testWeight
		if test != nil && test.Success {
			score += testWeight
		}
	}

	if len(expected.MustContain) > 0 {
		maxScore += containsWeight
		if containsAll(code, expected.MustContain) {
			score += containsWeight
		}
	}

	if len(expected.MustNotContain) > 0 {
		maxScore += forbiddenWeight
		if containsNone(code, expected.MustNotContain) {
			score += forbiddenWeight
		}
	}

	if maxScore == 0 {
		return 0
	}
	return 100 * float64(score) / float64(maxScore)
}

// AttemptPassed reports whether an attempt meets every expectation the task
// declares.
func AttemptPassed(expected task.Expected, code string, compilation *sandbox.CompilationResult, test *sandbox.TestResult) bool {
	if expected.Compile && (compilation == nil || !compilation.Success) {
		return false
	}
	if expected.TestApp != "" && (test == nil || !test.Success) {
		return false
	}
	if !containsAll(code, expected.MustContain) {
		return false
	}
	if !containsNone(code, expected.MustNotContain) {
		return false
	}
	return true
}

// FailureReasons lists the expectations an attempt missed, in the phrasing
// the aggregator classifies on.
func FailureReasons(expected task.Expected, code string, compilation *sandbox.CompilationResult, test *sandbox.TestResult) []string {
	var reasons []string
	if expected.Compile && (compilation == nil || !compilation.Success) {
		reason := "Compilation failed"
		if compilation != nil && len(compilation.Errors) > 0 {
			reason += ": " + compilation.Errors[0].Message
		}
		reasons = append(reasons, reason)
	}
	if expected.TestApp != "" && (test == nil || !test.Success) {
		reason := "Tests failed"
		if test != nil {
			reason += ": " + firstFailedTest(test)
		}
		reasons = append(reasons, reason)
	}
	for _, pattern := range expected.MustContain {
		if !strings.Contains(code, pattern) {
			reasons = append(reasons, "Missing required pattern: "+pattern)
		}
	}
	for _, pattern := range expected.MustNotContain {
		if strings.Contains(code, pattern) {
			reasons = append(reasons, "Contains forbidden pattern: "+pattern)
		}
	}
	return reasons
}

// FinalScorePassed applies the retry penalty for a pass on the given attempt:
// max(0, rawScore - (attemptNumber-1)*10).
func FinalScorePassed(rawScore float64, attemptNumber int) float64 {
	score := rawScore - float64(attemptNumber-1)*10
	if score < 0 {
		return 0
	}
	return score
}

// FinalScoreFailed applies the never-passed penalty: half the best attempt
// score, 0 when no attempts were made.
func FinalScoreFailed(attempts []*ExecutionAttempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	best := 0.0
	for _, a := range attempts {
		if a.Score > best {
			best = a.Score
		}
	}
	return best * 0.5
}

func containsAll(code string, patterns []string) bool {
	for _, p := range patterns {
		if !strings.Contains(code, p) {
			return false
		}
	}
	return true
}

func containsNone(code string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(code, p) {
			return false
		}
	}
	return true
}

func firstFailedTest(test *sandbox.TestResult) string {
	for _, tc := range test.Results {
		if !tc.Passed {
			if tc.Error != "" {
				return tc.Name + ": " + tc.Error
			}
			return tc.Name
		}
	}
	return "unknown test"
}
