package aggregate

import (
	"encoding/json"
	"time"

	"github.com/c360studio/albench/benchmark"
)

// Summary is the machine-readable run summary.
type Summary struct {
	Summary     SummaryTotals           `json:"summary"`
	Models      map[string]SummaryModel `json:"models"`
	Comparisons []SummaryComparison     `json:"comparisons"`
	GeneratedAt string                  `json:"generatedAt"`
}

// SummaryTotals are the run-level headline numbers.
type SummaryTotals struct {
	TaskCount    int     `json:"taskCount"`
	PassRate     float64 `json:"passRate"`
	AverageScore float64 `json:"averageScore"`
	TotalTokens  int     `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
}

// SummaryModel is the per-variant headline block.
type SummaryModel struct {
	PassRate    float64 `json:"passRate"`
	AvgScore    float64 `json:"avgScore"`
	Cost        float64 `json:"cost"`
	AvgAttempts float64 `json:"avgAttempts"`
}

// SummaryComparison is one task's cross-model outcome.
type SummaryComparison struct {
	Winner    string                `json:"winner,omitempty"`
	BestScore float64               `json:"bestScore"`
	Ranking   []benchmark.ModelRank `json:"ranking"`
}

// BuildSummary renders the finalized stats and stored comparisons into the
// summary document.
func (a *Aggregator) BuildSummary() *Summary {
	stats := a.Finalize()

	s := &Summary{
		Summary: SummaryTotals{
			TaskCount:    stats.TaskCount,
			PassRate:     stats.OverallPassRate,
			AverageScore: stats.AverageScore,
			TotalTokens:  stats.TotalTokens,
			TotalCost:    stats.TotalCost,
		},
		Models:      make(map[string]SummaryModel, len(stats.Models)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for id, ms := range stats.Models {
		total := ms.TasksPassed + ms.TasksFailed
		var passRate float64
		if total > 0 {
			passRate = float64(ms.TasksPassed) / float64(total)
		}
		s.Models[id] = SummaryModel{
			PassRate:    passRate,
			AvgScore:    ms.AvgScore,
			Cost:        ms.Cost,
			AvgAttempts: ms.AvgAttempts,
		}
	}

	for _, cmp := range a.Comparisons() {
		s.Comparisons = append(s.Comparisons, SummaryComparison{
			Winner:    cmp.Winner,
			BestScore: cmp.BestScore,
			Ranking:   cmp.Ranking,
		})
	}
	return s
}

// Encode renders the summary as indented JSON.
func (s *Summary) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
