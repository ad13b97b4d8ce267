// Package config loads and validates the declarative inputs of the harness:
// scenarios, profiles, the scoring rubric, and process-level settings.
// Everything is loaded once at startup into an immutable Snapshot that is
// passed explicitly to every component. Validation failures are fatal and
// reported before any job runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-level harness settings.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Experiment execution
	Concurrency   int    `yaml:"concurrency"`     // worker pool width
	JobTimeout    string `yaml:"job_timeout"`     // wall clock per job, e.g. "10m"
	MinSampleSize int    `yaml:"min_sample_size"` // cells below this are flagged underpowered

	// Model providers
	LLM LLMConfig `yaml:"llm"`

	// Persistence
	ResultDB  string `yaml:"result_db"`  // sqlite path for the result cache
	MemoryDB  string `yaml:"memory_db"`  // sqlite path for the learner memory store
	OutputDir string `yaml:"output_dir"` // JSONL run exports

	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures model providers. Which provider serves a given model
// name is decided by the llm package factory.
type LLMConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIBase   string `yaml:"openai_base_url"`
	Timeout      string `yaml:"timeout"`
	MaxRetries   int    `yaml:"max_retries"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default harness configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:          "paideia",
		Version:       "0.3.0",
		Concurrency:   4,
		JobTimeout:    "10m",
		MinSampleSize: 5,
		LLM: LLMConfig{
			Timeout:    "120s",
			MaxRetries: 2,
		},
		ResultDB:  "data/results.db",
		MemoryDB:  "data/memory.db",
		OutputDir: "data/runs",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the harness config from path, layered over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks process-level settings.
func (c *Config) Validate() error {
	v := &ValidationError{}
	if c.Concurrency < 1 {
		v.Addf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MinSampleSize < 1 {
		v.Addf("min_sample_size must be >= 1, got %d", c.MinSampleSize)
	}
	if _, err := time.ParseDuration(c.JobTimeout); err != nil {
		v.Addf("job_timeout: %v", err)
	}
	if c.LLM.Timeout != "" {
		if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
			v.Addf("llm.timeout: %v", err)
		}
	}
	return v.OrNil()
}

// JobTimeoutDuration returns the parsed per-job timeout.
func (c *Config) JobTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.JobTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ValidationError aggregates configuration problems so a single load reports
// every issue at once instead of failing on the first.
type ValidationError struct {
	Issues []string
}

// Addf appends a formatted issue.
func (v *ValidationError) Addf(format string, args ...any) {
	v.Issues = append(v.Issues, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no issues were recorded.
func (v *ValidationError) OrNil() error {
	if len(v.Issues) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%d issues):\n  - %s",
		len(v.Issues), strings.Join(v.Issues, "\n  - "))
}
