package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/albench/ratelimit"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.MaxConcurrentCalls != 10 {
		t.Errorf("expected default max concurrent calls 10, got %d", cfg.LLM.MaxConcurrentCalls)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("expected default temperature 0.2, got %f", cfg.LLM.Temperature)
	}
	if cfg.Compile.Provider != "mock" {
		t.Errorf("expected default sandbox provider mock, got %s", cfg.Compile.Provider)
	}
	if cfg.Run.TaskConcurrency != 1 {
		t.Errorf("expected sequential task execution by default, got %d", cfg.Run.TaskConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero concurrent calls",
			modify:  func(c *Config) { c.LLM.MaxConcurrentCalls = 0 },
			wantErr: true,
		},
		{
			name:    "temperature too low",
			modify:  func(c *Config) { c.LLM.Temperature = -0.1 },
			wantErr: true,
		},
		{
			name:    "missing sandbox provider",
			modify:  func(c *Config) { c.Compile.Provider = "" },
			wantErr: true,
		},
		{
			name:    "no sandboxes",
			modify:  func(c *Config) { c.Compile.Sandboxes = nil },
			wantErr: true,
		},
		{
			name:    "missing results dir",
			modify:  func(c *Config) { c.Run.ResultsDir = "" },
			wantErr: true,
		},
		{
			name: "bad rate limit entry",
			modify: func(c *Config) {
				c.RateLimits = map[string]ratelimit.Limits{
					"anthropic": {Concurrent: 0, RPM: 50, TPM: 100000},
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
llm:
  max_concurrent_calls: 4
  temperature: 0.5
  timeout: 10m
rate_limits:
  anthropic:
    concurrent: 2
    rpm: 40
    tpm: 80000
compile:
  provider: mock
  sandboxes:
    - bc-sandbox-1
    - bc-sandbox-2
  queue_timeout: 2m
run:
  task_concurrency: 3
  results_dir: "/tmp/results"
nats:
  url: "nats://test:4222"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.LLM.MaxConcurrentCalls != 4 {
		t.Errorf("expected 4 concurrent calls, got %d", cfg.LLM.MaxConcurrentCalls)
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.LLM.Timeout)
	}
	if got := cfg.RateLimits["anthropic"]; got.RPM != 40 {
		t.Errorf("expected anthropic rpm 40, got %d", got.RPM)
	}
	if len(cfg.Compile.Sandboxes) != 2 {
		t.Errorf("expected 2 sandboxes, got %d", len(cfg.Compile.Sandboxes))
	}
	if cfg.Compile.QueueTimeout != 2*time.Minute {
		t.Errorf("expected queue timeout 2m, got %v", cfg.Compile.QueueTimeout)
	}
	if cfg.Run.TaskConcurrency != 3 {
		t.Errorf("expected task concurrency 3, got %d", cfg.Run.TaskConcurrency)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		LLM: LLMConfig{
			MaxConcurrentCalls: 20,
		},
		Run: RunConfig{
			ResultsDir: "/override/results",
		},
		RateLimits: map[string]ratelimit.Limits{
			"openai": {Concurrent: 8, RPM: 120, TPM: 300000},
		},
	}

	base.Merge(override)

	if base.LLM.MaxConcurrentCalls != 20 {
		t.Errorf("expected 20 concurrent calls, got %d", base.LLM.MaxConcurrentCalls)
	}
	// Temperature should remain from base since override didn't set it
	if base.LLM.Temperature != 0.2 {
		t.Errorf("expected temperature to remain default, got %f", base.LLM.Temperature)
	}
	if base.Run.ResultsDir != "/override/results" {
		t.Errorf("expected results dir /override/results, got %s", base.Run.ResultsDir)
	}
	if got := base.RateLimits["openai"]; got.Concurrent != 8 {
		t.Errorf("expected merged openai concurrency 8, got %d", got.Concurrent)
	}
}

func TestEffectiveLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimits = map[string]ratelimit.Limits{
		"anthropic": {Concurrent: 1, RPM: 10, TPM: 20000},
	}

	limits := cfg.EffectiveLimits()

	if got := limits["anthropic"]; got.RPM != 10 {
		t.Errorf("expected override rpm 10, got %d", got.RPM)
	}
	// Untouched providers keep built-in defaults.
	if got := limits["openai"]; got.RPM != 60 {
		t.Errorf("expected default openai rpm 60, got %d", got.RPM)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Run.ResultsDir = "/saved/results"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Run.ResultsDir != "/saved/results" {
		t.Errorf("expected results dir /saved/results, got %s", loaded.Run.ResultsDir)
	}
}
