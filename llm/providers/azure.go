package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/albench/llm"
)

// AzureProvider implements the Azure OpenAI API. The deployment endpoint must
// be supplied via AZURE_OPENAI_ENDPOINT or the adapter base URL.
type AzureProvider struct {
	OpenAICompatible
}

// azureAPIVersion is the API version query parameter.
const azureAPIVersion = "2024-06-01"

func init() {
	llm.RegisterProvider(&AzureProvider{})
}

// Name returns the provider identifier.
func (a *AzureProvider) Name() string {
	return "azure"
}

// BuildURL constructs the Azure OpenAI chat completions endpoint.
func (a *AzureProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.Contains(baseURL, "api-version=") {
		return baseURL
	}
	return chatCompletionsURL(baseURL) + "?api-version=" + azureAPIVersion
}

// SetHeaders adds the Azure api-key header.
func (a *AzureProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("AZURE_OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("api-key", apiKey)
	}
}
