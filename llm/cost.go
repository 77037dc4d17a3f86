package llm

import "strings"

// modelRate holds USD per million tokens for one model family.
type modelRate struct {
	prefix     string
	prompt     float64
	completion float64
}

// Pricing is approximate and keyed by model-name prefix; first match wins.
// Unknown models cost zero, which keeps local/mock runs free.
var modelRates = []modelRate{
	{prefix: "claude-3-5-haiku", prompt: 0.80, completion: 4.00},
	{prefix: "claude-3-5-sonnet", prompt: 3.00, completion: 15.00},
	{prefix: "claude-sonnet", prompt: 3.00, completion: 15.00},
	{prefix: "claude-opus", prompt: 15.00, completion: 75.00},
	{prefix: "claude", prompt: 3.00, completion: 15.00},
	{prefix: "gpt-4o-mini", prompt: 0.15, completion: 0.60},
	{prefix: "gpt-4o", prompt: 2.50, completion: 10.00},
	{prefix: "gpt-4", prompt: 30.00, completion: 60.00},
	{prefix: "o1", prompt: 15.00, completion: 60.00},
	{prefix: "gemini-1.5-flash", prompt: 0.075, completion: 0.30},
	{prefix: "gemini-1.5-pro", prompt: 1.25, completion: 5.00},
	{prefix: "gemini", prompt: 0.10, completion: 0.40},
}

// EstimateCost computes an approximate USD cost for the given usage.
func EstimateCost(model string, usage TokenUsage) float64 {
	for _, r := range modelRates {
		if strings.HasPrefix(model, r.prefix) {
			return float64(usage.PromptTokens)*r.prompt/1e6 +
				float64(usage.CompletionTokens)*r.completion/1e6
		}
	}
	return 0
}
