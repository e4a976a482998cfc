// Package config handles Refine configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider field.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Generation defaults. The model and token ceiling match what the
// agile-coach prompt was tuned against.
const (
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultMaxTokens  = 2048
	DefaultTimeoutSec = 120
	DefaultPort       = 8080
	DefaultBrandName  = "Agile Work Item Converter"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/refine/config.yaml, /etc/refine/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "refine", "config.yaml"))
	}

	paths = append(paths, "/etc/refine/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Refine configuration.
type Config struct {
	Listen    ListenConfig            `yaml:"listen"`
	Provider  string                  `yaml:"provider"`
	Anthropic ProviderConfig          `yaml:"anthropic"`
	OpenAI    ProviderConfig          `yaml:"openai"`
	Generator GeneratorConfig         `yaml:"generator"`
	Web       WebConfig               `yaml:"web"`
	Usage     UsageConfig             `yaml:"usage"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProviderConfig holds credentials and endpoint for one LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // optional gateway or OpenAI-compatible endpoint
}

// Configured reports whether an API key is present.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// GeneratorConfig controls the single generation call.
type GeneratorConfig struct {
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	TimeoutSec int    `yaml:"timeout_sec"`
	// CheckSections flags (but never rejects) output that is missing one
	// of the required template headings.
	CheckSections *bool `yaml:"check_sections"`
}

// Timeout returns the per-call deadline.
func (g GeneratorConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// SectionCheckEnabled reports whether output section checking is on.
// Unset means on.
func (g GeneratorConfig) SectionCheckEnabled() bool {
	return g.CheckSections == nil || *g.CheckSections
}

// WebConfig controls the form UI.
type WebConfig struct {
	BrandName string `yaml:"brand_name"`
	// AllowUserKey shows an API key field on the form. A key entered
	// there is used for that one request instead of the configured key.
	AllowUserKey bool `yaml:"allow_user_key"`
}

// UsageConfig controls the token usage ledger.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PricingEntry is the USD cost per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Credential returns the configured API key for the selected provider.
// Empty means no secret was configured.
func (c *Config) Credential() string {
	switch c.Provider {
	case ProviderOpenAI:
		return strings.TrimSpace(c.OpenAI.APIKey)
	default:
		return strings.TrimSpace(c.Anthropic.APIKey)
	}
}

// ProviderSettings returns the settings block for the selected provider.
func (c *Config) ProviderSettings() ProviderConfig {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI
	}
	return c.Anthropic
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration. The API key is read from
// ANTHROPIC_API_KEY so the CLI works without a config file.
func Default() *Config {
	cfg := &Config{
		Anthropic: ProviderConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.Provider == "" {
		c.Provider = ProviderAnthropic
	}
	if c.Generator.Model == "" && c.Provider == ProviderAnthropic {
		c.Generator.Model = DefaultModel
	}
	if c.Generator.MaxTokens == 0 {
		c.Generator.MaxTokens = DefaultMaxTokens
	}
	if c.Generator.TimeoutSec == 0 {
		c.Generator.TimeoutSec = DefaultTimeoutSec
	}
	if c.Web.BrandName == "" {
		c.Web.BrandName = DefaultBrandName
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Pricing == nil {
		c.Pricing = map[string]PricingEntry{
			"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
			"claude-opus-4-20250514":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
		}
	}
}

// Validate checks the configuration for values that would fail at
// runtime. A missing API key is not an error: generation reports it as
// a missing credential, and the web form may supply one.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("provider %q is not supported (valid: anthropic, openai)", c.Provider))
	}
	if c.Generator.Model == "" {
		errs = append(errs, fmt.Errorf("generator.model is required for provider %q", c.Provider))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Generator.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("generator.max_tokens must be positive, got %d", c.Generator.MaxTokens))
	}
	if c.Generator.TimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("generator.timeout_sec must be positive, got %d", c.Generator.TimeoutSec))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
