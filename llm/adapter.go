package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Adapter is a generation client bound to one (provider, model) pair with
// fixed sampling settings. The work pool calls it once per attempt.
type Adapter struct {
	provider    Provider
	model       string
	baseURL     string
	temperature *float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// WithBaseURL overrides the provider's default endpoint URL.
func WithBaseURL(url string) AdapterOption {
	return func(a *Adapter) {
		a.baseURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an adapter for the named provider. Returns a fatal error
// when the provider is not registered.
func NewAdapter(providerName, model string, temperature *float64, maxTokens int, opts ...AdapterOption) (*Adapter, error) {
	p := GetProvider(providerName)
	if p == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", providerName))
	}

	a := &Adapter{
		provider:    p,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Model returns the model this adapter is bound to.
func (a *Adapter) Model() string { return a.model }

// ProviderName returns the provider this adapter is bound to.
func (a *Adapter) ProviderName() string { return a.provider.Name() }

// GenerateCode requests a fresh code generation for the given instructions.
func (a *Adapter) GenerateCode(ctx context.Context, req Request) (*Response, error) {
	return a.complete(ctx, req, a.buildMessages(req, req.Instructions))
}

// GenerateFix requests a repair of previously generated code. The previous
// code and its failure reasons are appended to the rendered fix instructions.
func (a *Adapter) GenerateFix(ctx context.Context, previousCode string, failures []string, req Request) (*Response, error) {
	var b strings.Builder
	b.WriteString(req.Instructions)
	b.WriteString("\n\nPrevious attempt:\n```al\n")
	b.WriteString(previousCode)
	b.WriteString("\n```\n\nProblems found:\n")
	for _, f := range failures {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return a.complete(ctx, req, a.buildMessages(req, b.String()))
}

func (a *Adapter) buildMessages(req Request, user string) []Message {
	var messages []Message
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: user})
	return messages
}

// complete executes a single HTTP request against the provider endpoint.
// Request-level sampling settings override the adapter's bound defaults.
func (a *Adapter) complete(ctx context.Context, req Request, messages []Message) (*Response, error) {
	url := a.provider.BuildURL(a.baseURL)

	temp := a.temperature
	if req.Temperature != nil {
		temp = req.Temperature
	}
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	body, err := a.provider.BuildRequestBody(a.model, messages, temp, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	a.logger.Debug("Sending LLM request",
		"provider", a.provider.Name(),
		"model", a.model,
		"url", url,
		"messages", len(messages))

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	a.provider.SetHeaders(httpReq)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, httpResp.Header, respBody)
	}

	resp, err := a.provider.ParseResponse(respBody, a.model)
	if err != nil {
		return nil, NewFatalError(err)
	}
	resp.Duration = time.Since(start)
	if resp.Usage.EstimatedCost == 0 {
		resp.Usage.EstimatedCost = EstimateCost(resp.Model, resp.Usage)
	}
	return resp, nil
}

// classifyHTTPError determines how an HTTP error should be retried.
func classifyHTTPError(statusCode int, header http.Header, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		retryAfter := ParseRetryAfter("retry-after: " + header.Get("Retry-After"))
		return NewRateLimitError(err, retryAfter)
	case statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusGatewayTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}

// Registry resolves (provider, model, temperature, maxTokens) tuples to
// adapter instances, caching by key so a variant reuses one HTTP client.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]*Adapter
	opts     []AdapterOption
}

// NewRegistry creates an adapter registry. opts apply to every adapter it
// constructs.
func NewRegistry(opts ...AdapterOption) *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
		opts:     opts,
	}
}

// Resolve returns the adapter for the tuple, constructing it on first use.
func (r *Registry) Resolve(providerName, model string, temperature *float64, maxTokens int) (*Adapter, error) {
	key := fmt.Sprintf("%s/%s/%v/%d", providerName, model, tempKey(temperature), maxTokens)

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[key]; ok {
		return a, nil
	}
	a, err := NewAdapter(providerName, model, temperature, maxTokens, r.opts...)
	if err != nil {
		return nil, err
	}
	r.adapters[key] = a
	return a, nil
}

func tempKey(t *float64) string {
	if t == nil {
		return "default"
	}
	return fmt.Sprintf("%.3f", *t)
}
