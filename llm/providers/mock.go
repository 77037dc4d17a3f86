package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/albench/llm"
)

// MockProvider targets an OpenAI-compatible fixture server (MOCK_LLM_URL)
// for deterministic, offline runs.
type MockProvider struct {
	OpenAICompatible
}

func init() {
	llm.RegisterProvider(&MockProvider{})
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return "mock"
}

// BuildURL constructs the mock server endpoint.
func (m *MockProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		if env := os.Getenv("MOCK_LLM_URL"); env != "" {
			baseURL = env
		} else {
			baseURL = "http://localhost:8085/v1"
		}
	}
	return chatCompletionsURL(baseURL)
}

// SetHeaders is a no-op; the mock server is unauthenticated.
func (m *MockProvider) SetHeaders(_ *http.Request) {}
