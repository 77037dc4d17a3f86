package aggregate_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/albench/aggregate"
	"github.com/c360studio/albench/benchmark"
)

func TestBuildSummary(t *testing.T) {
	agg := aggregate.NewAggregator()

	results := map[string]*benchmark.TaskExecutionResult{
		"openai/gpt-4o":             passedResult("t1", "openai/gpt-4o", 1, 100),
		"anthropic/claude-sonnet-4": failedResult("t1", "anthropic/claude-sonnet-4", 25, longCode, []string{"Compilation failed"}),
	}
	agg.AddParallelTaskResult(&benchmark.ParallelTaskResult{
		TaskID:       "t1",
		ModelResults: results,
		Comparison:   aggregate.BuildTaskComparison("t1", results),
	})

	s := agg.BuildSummary()

	assert.Equal(t, 1, s.Summary.TaskCount)
	assert.InDelta(t, 0.5, s.Summary.PassRate, 0.001)
	assert.Equal(t, 150, s.Summary.TotalTokens)
	assert.NotEmpty(t, s.GeneratedAt)

	gpt := s.Models["openai/gpt-4o"]
	assert.Equal(t, 1.0, gpt.PassRate)
	assert.Equal(t, 100.0, gpt.AvgScore)
	assert.Equal(t, 1.0, gpt.AvgAttempts)

	require.Len(t, s.Comparisons, 1)
	assert.Equal(t, "openai/gpt-4o", s.Comparisons[0].Winner)
	assert.Equal(t, 100.0, s.Comparisons[0].BestScore)
	assert.Len(t, s.Comparisons[0].Ranking, 2)
}

func TestSummaryEncode(t *testing.T) {
	agg := aggregate.NewAggregator()
	agg.Add(passedResult("t1", "m", 1, 100))

	data, err := agg.BuildSummary().Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, decoded, "models")
}
