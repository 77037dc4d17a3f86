package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/albench/llm"
)

// LocalProvider implements the OpenAI-compatible API used by Ollama, vLLM,
// LM Studio and similar local servers.
type LocalProvider struct {
	OpenAICompatible
}

func init() {
	llm.RegisterProvider(&LocalProvider{})
}

// Name returns the provider identifier.
func (l *LocalProvider) Name() string {
	return "local"
}

// BuildURL constructs the chat completions endpoint.
func (l *LocalProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		if env := os.Getenv("LOCAL_LLM_URL"); env != "" {
			baseURL = env
		} else {
			baseURL = "http://localhost:11434/v1"
		}
	}
	return chatCompletionsURL(baseURL)
}

// SetHeaders adds an API key when the local server requires one.
func (l *LocalProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("LOCAL_LLM_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
