package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Provider families. The family selects the adapter implementation.
const (
	FamilyOpenAI      = "openai"
	FamilyAnthropic   = "anthropic"
	FamilyGoogle      = "google"
	FamilyHuggingFace = "huggingface"
)

// Usage ledger backends.
const (
	UsageBackendNone   = "none"
	UsageBackendMemory = "memory"
	UsageBackendRedis  = "redis"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Usage     UsageConfig     `yaml:"usage"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
	// BodyLimit caps request bodies, echo notation ("2M"). Empty means 2M.
	BodyLimit string `yaml:"body_limit"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// UsageConfig selects where accumulated token usage is kept.
type UsageConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

// ProvidersConfig catalogues configured upstream providers. Nil entries are disabled.
type ProvidersConfig struct {
	OpenAI      *ProviderConfig `yaml:"openai"`
	Anthropic   *ProviderConfig `yaml:"anthropic"`
	Google      *ProviderConfig `yaml:"google"`
	HuggingFace *ProviderConfig `yaml:"huggingface"`
}

// Enabled returns the configured providers keyed by family.
func (p ProvidersConfig) Enabled() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, 4)
	if p.OpenAI != nil {
		out[FamilyOpenAI] = *p.OpenAI
	}
	if p.Anthropic != nil {
		out[FamilyAnthropic] = *p.Anthropic
	}
	if p.Google != nil {
		out[FamilyGoogle] = *p.Google
	}
	if p.HuggingFace != nil {
		out[FamilyHuggingFace] = *p.HuggingFace
	}
	return out
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey    string            `yaml:"api_key"`
	APIKeyEnv string            `yaml:"api_key_env"`
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	Models    []ModelConfig     `yaml:"models"`
	Headers   Headers           `yaml:"headers"`
	Aliases   map[string]string `yaml:"aliases"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig describes a model exposed by a provider.
type ModelConfig struct {
	ID string `yaml:"id"`
	// Upstream is the name sent to the provider; defaults to ID.
	Upstream string `yaml:"upstream"`
	// Prices are USD per token, as decimal strings.
	InputPrice    string `yaml:"input_price"`
	OutputPrice   string `yaml:"output_price"`
	MaxTokens     int    `yaml:"max_tokens"`
	ContextWindow int    `yaml:"context_window"`
	Reasoning     bool   `yaml:"reasoning"`
}

// UpstreamName returns the provider-side model name.
func (m ModelConfig) UpstreamName() string {
	if u := strings.TrimSpace(m.Upstream); u != "" {
		return u
	}
	return strings.TrimSpace(m.ID)
}

// Prices parses the configured per-token prices. Empty strings are zero.
func (m ModelConfig) Prices() (input, output decimal.Decimal, err error) {
	input, err = parsePrice(m.InputPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("input_price: %w", err)
	}
	output, err = parsePrice(m.OutputPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("output_price: %w", err)
	}
	return input, output, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %s must not be negative", s)
	}
	return d, nil
}

// Load reads YAML configuration from disk, resolves API keys from the
// environment and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML, resolves api_key_env through lookup and validates.
func Parse(data []byte, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	cfg.resolveKeys(lookup)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Usage.Backend == "" {
		c.Usage.Backend = UsageBackendMemory
	}
	if c.Usage.Prefix == "" {
		c.Usage.Prefix = "chatrouter:usage"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) resolveKeys(lookup func(string) (string, bool)) {
	for _, p := range []*ProviderConfig{c.Providers.OpenAI, c.Providers.Anthropic, c.Providers.Google, c.Providers.HuggingFace} {
		if p == nil || strings.TrimSpace(p.APIKey) != "" || p.APIKeyEnv == "" {
			continue
		}
		if v, ok := lookup(p.APIKeyEnv); ok {
			p.APIKey = strings.TrimSpace(v)
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.Usage.Backend {
	case UsageBackendNone, UsageBackendMemory:
	case UsageBackendRedis:
		if strings.TrimSpace(c.Usage.RedisAddr) == "" {
			return fmt.Errorf("usage.redis_addr must be provided for the %s backend", UsageBackendRedis)
		}
	default:
		return fmt.Errorf("usage.backend %q must be one of %q, %q or %q", c.Usage.Backend, UsageBackendNone, UsageBackendMemory, UsageBackendRedis)
	}

	providers := c.Providers.Enabled()
	if len(providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]string)
	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
		for _, model := range provider.Models {
			id := strings.TrimSpace(model.ID)
			if other, dup := seen[id]; dup {
				return fmt.Errorf("model %q is configured by both %s and %s", id, other, name)
			}
			seen[id] = name
		}
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.APIKey) == "" {
		if provider.APIKeyEnv != "" {
			return fmt.Errorf("provider %s: environment variable %s is not set", name, provider.APIKeyEnv)
		}
		return fmt.Errorf("provider %s: api_key or api_key_env must be provided", name)
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if provider.Timeout < 0 {
		return fmt.Errorf("provider %s: timeout must not be negative", name)
	}
	if len(provider.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model must be configured", name)
	}

	ids := make(map[string]struct{}, len(provider.Models))
	for _, model := range provider.Models {
		id := strings.TrimSpace(model.ID)
		if id == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
		ids[id] = struct{}{}
		if _, _, err := model.Prices(); err != nil {
			return fmt.Errorf("provider %s: model %s: %w", name, id, err)
		}
		if model.MaxTokens < 0 || model.ContextWindow < 0 {
			return fmt.Errorf("provider %s: model %s: limits must not be negative", name, id)
		}
		if model.ContextWindow > 0 && model.MaxTokens > model.ContextWindow {
			return fmt.Errorf("provider %s: model %s: max_tokens %d exceeds context_window %d", name, id, model.MaxTokens, model.ContextWindow)
		}
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	for alias, target := range provider.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("provider %s: alias name must not be empty", name)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("provider %s: alias %q target must not be empty", name, alias)
		}
		if _, ok := ids[strings.TrimSpace(target)]; !ok {
			return fmt.Errorf("provider %s: alias %q targets unknown model %q", name, alias, target)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
