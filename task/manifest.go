// Package task defines benchmark task manifests and their loader.
// A manifest is a human-authored YAML document describing one benchmark item;
// it is immutable once loaded.
package task

import (
	"fmt"
)

// Manifest describes one benchmark item.
type Manifest struct {
	// ID is the stable task identifier.
	ID string `yaml:"id" json:"id"`

	// Description is the human-readable task summary.
	Description string `yaml:"description" json:"description"`

	// PromptTemplate is the path to the initial prompt template.
	PromptTemplate string `yaml:"prompt_template" json:"prompt_template"`

	// FixTemplate is the path to the repair prompt template.
	FixTemplate string `yaml:"fix_template" json:"fix_template"`

	// MaxAttempts bounds the generate→compile→test loop. Minimum 1.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Expected declares the pass criteria.
	Expected Expected `yaml:"expected" json:"expected"`

	// Metrics names the metric categories to report for this task.
	Metrics []string `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Metadata is reporting-only information.
	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Prompts optionally overrides named prompt fragments.
	Prompts map[string]string `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// Expected declares the pass criteria for a task.
type Expected struct {
	// Compile requires the generated code to compile.
	Compile bool `yaml:"compile" json:"compile"`

	// TestApp names the test application; presence triggers test execution.
	TestApp string `yaml:"testApp,omitempty" json:"testApp,omitempty"`

	// MustContain lists substrings the generated code must include.
	MustContain []string `yaml:"mustContain,omitempty" json:"mustContain,omitempty"`

	// MustNotContain lists substrings the generated code must not include.
	MustNotContain []string `yaml:"mustNotContain,omitempty" json:"mustNotContain,omitempty"`
}

// Metadata carries reporting-only task attributes.
type Metadata struct {
	Difficulty      string   `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	Category        string   `yaml:"category,omitempty" json:"category,omitempty"`
	Tags            []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	EstimatedTokens int      `yaml:"estimated_tokens,omitempty" json:"estimated_tokens,omitempty"`
}

// Validate checks that the manifest is well-formed.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("task %s: max_attempts must be >= 1, got %d", m.ID, m.MaxAttempts)
	}
	if m.PromptTemplate == "" {
		return fmt.Errorf("task %s: prompt_template is required", m.ID)
	}
	return nil
}

// HasTests reports whether the task triggers test execution.
func (m *Manifest) HasTests() bool {
	return m.Expected.TestApp != ""
}
