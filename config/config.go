// Package config loads the engine configuration: YAML on disk merged onto a
// named preset, with the preset's values as defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/promptmem/promptmem/memory"
	"github.com/promptmem/promptmem/runtime"
)

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	Host       string `yaml:"host,omitempty"`  // default http://localhost:11434, read via OLLAMA_HOST
	Model      string `yaml:"model,omitempty"` // embedding model name
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// AnthropicConfig configures the model-backed summarizer.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
}

// DatabaseConfig locates the durable message store.
type DatabaseConfig struct {
	// Path to the SQLite file. Empty disables persistence.
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// EngineConfig is the full engine configuration.
type EngineConfig struct {
	Context   memory.Config             `yaml:"context,omitempty"`
	Pipeline  memory.PipelineConfig     `yaml:"pipeline,omitempty"`
	Strategy  memory.StrategyConfig     `yaml:"strategy,omitempty"`
	Session   memory.SessionStoreConfig `yaml:"session,omitempty"`
	Retention runtime.RetentionConfig   `yaml:"retention,omitempty"`

	// EmbeddingProvider is "ollama" or "openai".
	EmbeddingProvider string          `yaml:"embedding_provider,omitempty"`
	Ollama            OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI            OpenAIConfig    `yaml:"openai,omitempty"`
	Anthropic         AnthropicConfig `yaml:"anthropic,omitempty"`

	Database DatabaseConfig `yaml:"database,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// Preset names a shipped configuration profile.
type Preset string

const (
	// PresetDefault is the balanced profile.
	PresetDefault Preset = "default"
	// PresetConservative trades throughput for stability: small batches,
	// patient retries, a touchy breaker.
	PresetConservative Preset = "conservative"
	// PresetAggressive trades stability for throughput: big batches, fast
	// retries, a tolerant breaker.
	PresetAggressive Preset = "aggressive"
)

// ForPreset returns the named profile's full configuration.
func ForPreset(p Preset) (EngineConfig, error) {
	cfg := EngineConfig{
		Context:           memory.DefaultConfig(),
		Pipeline:          memory.DefaultPipelineConfig(),
		Strategy:          memory.DefaultStrategyConfig(),
		Session:           memory.DefaultSessionStoreConfig(),
		Retention:         runtime.DefaultRetentionConfig(),
		EmbeddingProvider: "ollama",
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "mxbai-embed-large",
		},
		OpenAI: OpenAIConfig{
			Model: "text-embedding-3-small",
		},
		Anthropic: AnthropicConfig{
			MaxTokens: 512,
		},
	}

	switch p {
	case PresetDefault, "":
	case PresetConservative:
		cfg.Pipeline.Mode = memory.ModeSequential
		cfg.Pipeline.MaxBatchSize = 8
		cfg.Pipeline.MaxRetries = 5
		cfg.Pipeline.RetryBaseDelay = time.Second
		cfg.Pipeline.RetryMaxDelay = 30 * time.Second
		cfg.Pipeline.MaxFailures = 3
		cfg.Pipeline.BreakerTimeout = time.Minute
		cfg.Pipeline.RequestsPerSecond = 10
	case PresetAggressive:
		cfg.Pipeline.Mode = memory.ModeParallel
		cfg.Pipeline.MinBatchSize = 16
		cfg.Pipeline.MaxBatchSize = 128
		cfg.Pipeline.MaxRetries = 2
		cfg.Pipeline.RetryBaseDelay = 100 * time.Millisecond
		cfg.Pipeline.RetryMaxDelay = 2 * time.Second
		cfg.Pipeline.MaxFailures = 10
		cfg.Pipeline.BreakerTimeout = 10 * time.Second
		cfg.Pipeline.RequestsPerSecond = 200
	default:
		return EngineConfig{}, fmt.Errorf("unknown preset %q", p)
	}
	return cfg, nil
}

// DefaultPath returns the default config file path. It can be overridden via
// the PROMPTMEM_CONFIG_PATH environment variable.
func DefaultPath() string {
	if envPath := os.Getenv("PROMPTMEM_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.promptmem/config.yaml"
	}
	return filepath.Join(homeDir, ".promptmem", "config.yaml")
}

// Load reads the YAML file at path and merges it onto the named preset. A
// missing file yields the preset unchanged. The result is validated.
func Load(path string, preset Preset) (*EngineConfig, error) {
	cfg, err := ForPreset(preset)
	if err != nil {
		return nil, err
	}

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		raw, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg EngineConfig
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path, creating directories as needed.
func Save(cfg *EngineConfig, path string) error {
	expandedPath := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *EngineConfig) Validate() error {
	if err := c.Context.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	switch c.EmbeddingProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider)
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
