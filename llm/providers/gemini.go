package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/albench/llm"
)

// GeminiProvider implements the Gemini API via Google's OpenAI-compatible
// endpoint, which keeps the model out of the URL path.
type GeminiProvider struct {
	OpenAICompatible
}

func init() {
	llm.RegisterProvider(&GeminiProvider{})
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// BuildURL constructs the OpenAI-compatible chat completions endpoint.
func (g *GeminiProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return chatCompletionsURL(strings.TrimSuffix(baseURL, "/"))
}

// SetHeaders adds the Gemini API key.
func (g *GeminiProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
