// Package llm provides the provider adapter layer for the benchmark harness.
// Adapters translate generation requests into provider-specific HTTP calls and
// classify failures so the work pool can decide whether to retry.
package llm

import "time"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a single generation request.
type Request struct {
	// Instructions is the rendered task prompt sent as the user message.
	Instructions string

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Temperature controls randomness. nil uses the adapter's bound value.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the adapter's bound value.
	MaxTokens int
}

// TokenUsage represents token consumption details for a generation.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
}

// Response contains the generation result.
type Response struct {
	// Content is the raw generated text.
	Content string `json:"content"`

	// Model is the actual model that produced the response.
	Model string `json:"model"`

	// Usage contains token consumption metrics.
	Usage TokenUsage `json:"usage"`

	// Duration is the wall-clock time of the provider call.
	Duration time.Duration `json:"duration"`

	// FinishReason indicates why generation stopped ("stop", "length", "error").
	FinishReason string `json:"finish_reason"`
}

// Extraction is the result of pulling a code block out of response text.
type Extraction struct {
	// Code is the extracted source, empty when nothing code-shaped was found.
	Code string

	// Confidence is in [0,1]. Above 0.5 the code is considered compile-ready.
	Confidence float64
}
