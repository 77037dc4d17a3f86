package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/albench/llm"
	_ "github.com/c360studio/albench/llm/providers" // Register providers
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func TestAdapterGenerateCode(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("```al\ncodeunit 50100 Demo {}\n```"))
	}))
	defer server.Close()

	temp := 0.3
	adapter, err := llm.NewAdapter("mock", "test-model", &temp, 2048, llm.WithBaseURL(server.URL))
	require.NoError(t, err)

	resp, err := adapter.GenerateCode(context.Background(), llm.Request{
		Instructions: "write a codeunit",
		SystemPrompt: "you are an AL developer",
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Content, "codeunit 50100 Demo")
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Greater(t, resp.Duration.Nanoseconds(), int64(0))

	var sent struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, "test-model", sent.Model)
	assert.Equal(t, 0.3, sent.Temperature)
	assert.Equal(t, 2048, sent.MaxTokens)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "user", sent.Messages[1].Role)
}

func TestAdapterRequestOverridesSampling(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("ok"))
	}))
	defer server.Close()

	boundTemp := 0.3
	adapter, err := llm.NewAdapter("mock", "test-model", &boundTemp, 2048, llm.WithBaseURL(server.URL))
	require.NoError(t, err)

	reqTemp := 0.9
	_, err = adapter.GenerateCode(context.Background(), llm.Request{
		Instructions: "hi",
		Temperature:  &reqTemp,
		MaxTokens:    512,
	})
	require.NoError(t, err)

	var sent struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, 0.9, sent.Temperature)
	assert.Equal(t, 512, sent.MaxTokens)

	// Without overrides the bound values apply.
	_, err = adapter.GenerateCode(context.Background(), llm.Request{Instructions: "hi"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, 0.3, sent.Temperature)
	assert.Equal(t, 2048, sent.MaxTokens)
}

func TestAdapterGenerateFixAppendsContext(t *testing.T) {
	var userContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			if m.Role == "user" {
				userContent = m.Content
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("```al\ncodeunit 50100 Fixed {}\n```"))
	}))
	defer server.Close()

	adapter, err := llm.NewAdapter("mock", "test-model", nil, 0, llm.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = adapter.GenerateFix(context.Background(),
		"codeunit 50100 Broken {}",
		[]string{"Compilation failed: syntax error"},
		llm.Request{Instructions: "fix the code"})
	require.NoError(t, err)

	assert.Contains(t, userContent, "fix the code")
	assert.Contains(t, userContent, "Previous attempt:")
	assert.Contains(t, userContent, "codeunit 50100 Broken {}")
	assert.Contains(t, userContent, "- Compilation failed: syntax error")
}

func TestAdapterHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "429 with retry-after header",
			status:     http.StatusTooManyRequests,
			retryAfter: "7",
			check: func(t *testing.T, err error) {
				var rl *llm.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, int64(7), int64(rl.RetryAfter.Seconds()))
			},
		},
		{
			name:   "503 transient",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				assert.True(t, llm.IsTransient(err))
			},
		},
		{
			name:   "500 transient",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				assert.True(t, llm.IsTransient(err))
			},
		},
		{
			name:   "401 fatal",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, llm.IsFatal(err))
			},
		},
		{
			name:   "400 fatal",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.True(t, llm.IsFatal(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("error body"))
			}))
			defer server.Close()

			adapter, err := llm.NewAdapter("mock", "test-model", nil, 0, llm.WithBaseURL(server.URL))
			require.NoError(t, err)

			_, err = adapter.GenerateCode(context.Background(), llm.Request{Instructions: "hi"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestAdapterNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Connection refused from here on.

	adapter, err := llm.NewAdapter("mock", "test-model", nil, 0, llm.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = adapter.GenerateCode(context.Background(), llm.Request{Instructions: "hi"})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestAdapterUnknownProvider(t *testing.T) {
	_, err := llm.NewAdapter("no-such-provider", "m", nil, 0)
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestAdapterFillsEstimatedCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse("hello")
		resp["model"] = "claude-sonnet-4"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter, err := llm.NewAdapter("mock", "claude-sonnet-4", nil, 0, llm.WithBaseURL(server.URL))
	require.NoError(t, err)

	resp, err := adapter.GenerateCode(context.Background(), llm.Request{Instructions: "hi"})
	require.NoError(t, err)
	assert.Greater(t, resp.Usage.EstimatedCost, 0.0)
}

func TestRegistryCachesAdapters(t *testing.T) {
	registry := llm.NewRegistry()

	temp := 0.2
	a, err := registry.Resolve("mock", "m1", &temp, 1024)
	require.NoError(t, err)
	b, err := registry.Resolve("mock", "m1", &temp, 1024)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := registry.Resolve("mock", "m1", &temp, 2048)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestRegistryConcurrentResolve(t *testing.T) {
	registry := llm.NewRegistry()

	var failures atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := registry.Resolve("mock", "m1", nil, 0); err != nil {
				failures.Add(1)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Zero(t, failures.Load())
}
