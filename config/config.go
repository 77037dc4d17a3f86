// Package config provides configuration loading and management for albench.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/albench/ratelimit"
)

// Config represents the complete albench configuration
type Config struct {
	LLM        LLMConfig                   `yaml:"llm"`
	RateLimits map[string]ratelimit.Limits `yaml:"rate_limits"`
	Compile    CompileConfig               `yaml:"compile"`
	Run        RunConfig                   `yaml:"run"`
	NATS       NATSConfig                  `yaml:"nats"`
	Metrics    MetricsConfig               `yaml:"metrics"`
}

// LLMConfig configures the generation work pool and adapter defaults
type LLMConfig struct {
	// MaxConcurrentCalls caps in-flight generations across all providers
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
	// Temperature is the default sampling temperature when a variant sets none
	Temperature float64 `yaml:"temperature"`
	// MaxTokens is the default response token limit
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the maximum time to wait for one generation
	Timeout time.Duration `yaml:"timeout"`
}

// CompileConfig configures the compile queue and sandbox
type CompileConfig struct {
	// Provider is the registered sandbox provider name
	Provider string `yaml:"provider"`
	// Sandboxes lists the sandbox names; each gets its own serial queue
	Sandboxes []string `yaml:"sandboxes"`
	// MaxQueueSize bounds pending entries per queue
	MaxQueueSize int `yaml:"max_queue_size"`
	// QueueTimeout bounds how long an entry may wait before processing starts
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

// RunConfig configures run-level behavior
type RunConfig struct {
	// TaskConcurrency bounds parallel tasks (1 = sequential)
	TaskConcurrency int `yaml:"task_concurrency"`
	// ResultsDir is the base directory for result files
	ResultsDir string `yaml:"results_dir"`
	// ExecutedBy annotates results
	ExecutedBy string `yaml:"executed_by"`
	// Environment annotates results
	Environment string `yaml:"environment"`
	// AbortOnCritical aborts the run on the first critical error
	AbortOnCritical bool `yaml:"abort_on_critical"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = NATS disabled)
	URL string `yaml:"url"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// ListenAddr is the metrics HTTP listen address (empty = disabled)
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxConcurrentCalls: 10,
			Temperature:        0.2,
			MaxTokens:          8192,
			Timeout:            5 * time.Minute,
		},
		RateLimits: nil, // Built-in per-provider defaults
		Compile: CompileConfig{
			Provider:     "mock",
			Sandboxes:    []string{"default"},
			MaxQueueSize: 100,
			QueueTimeout: 5 * time.Minute,
		},
		Run: RunConfig{
			TaskConcurrency: 1,
			ResultsDir:      "results",
			Environment:     "local",
		},
		NATS:    NATSConfig{URL: ""},
		Metrics: MetricsConfig{ListenAddr: ""},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.LLM.MaxConcurrentCalls < 1 {
		return fmt.Errorf("llm.max_concurrent_calls must be >= 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.Compile.Provider == "" {
		return fmt.Errorf("compile.provider is required")
	}
	if len(c.Compile.Sandboxes) == 0 {
		return fmt.Errorf("compile.sandboxes must name at least one sandbox")
	}
	if c.Compile.MaxQueueSize < 1 {
		return fmt.Errorf("compile.max_queue_size must be >= 1")
	}
	if c.Run.TaskConcurrency < 1 {
		return fmt.Errorf("run.task_concurrency must be >= 1")
	}
	if c.Run.ResultsDir == "" {
		return fmt.Errorf("run.results_dir is required")
	}
	for provider, limits := range c.RateLimits {
		if limits.Concurrent < 1 {
			return fmt.Errorf("rate_limits.%s.concurrent must be >= 1", provider)
		}
		if limits.RPM < 1 {
			return fmt.Errorf("rate_limits.%s.rpm must be >= 1", provider)
		}
		if limits.TPM < 1 {
			return fmt.Errorf("rate_limits.%s.tpm must be >= 1", provider)
		}
	}
	return nil
}

// EffectiveLimits overlays configured rate limits on the built-in defaults.
func (c *Config) EffectiveLimits() map[string]ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	for provider, l := range c.RateLimits {
		limits[provider] = l
	}
	return limits
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	if other.LLM.MaxConcurrentCalls != 0 {
		c.LLM.MaxConcurrentCalls = other.LLM.MaxConcurrentCalls
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Rate limits merge per provider
	if len(other.RateLimits) > 0 {
		if c.RateLimits == nil {
			c.RateLimits = make(map[string]ratelimit.Limits, len(other.RateLimits))
		}
		for provider, limits := range other.RateLimits {
			c.RateLimits[provider] = limits
		}
	}

	// Compile
	if other.Compile.Provider != "" {
		c.Compile.Provider = other.Compile.Provider
	}
	if len(other.Compile.Sandboxes) > 0 {
		c.Compile.Sandboxes = other.Compile.Sandboxes
	}
	if other.Compile.MaxQueueSize != 0 {
		c.Compile.MaxQueueSize = other.Compile.MaxQueueSize
	}
	if other.Compile.QueueTimeout != 0 {
		c.Compile.QueueTimeout = other.Compile.QueueTimeout
	}

	// Run
	if other.Run.TaskConcurrency != 0 {
		c.Run.TaskConcurrency = other.Run.TaskConcurrency
	}
	if other.Run.ResultsDir != "" {
		c.Run.ResultsDir = other.Run.ResultsDir
	}
	if other.Run.ExecutedBy != "" {
		c.Run.ExecutedBy = other.Run.ExecutedBy
	}
	if other.Run.Environment != "" {
		c.Run.Environment = other.Run.Environment
	}
	if other.Run.AbortOnCritical {
		c.Run.AbortOnCritical = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Metrics
	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
}
