package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"chatrouter/internal/config"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
	anthropicProvider "chatrouter/internal/provider/anthropic"
	googleProvider "chatrouter/internal/provider/google"
	huggingfaceProvider "chatrouter/internal/provider/huggingface"
	openaiProvider "chatrouter/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// families is the registration order; it keeps builds deterministic.
var families = []string{
	config.FamilyOpenAI,
	config.FamilyAnthropic,
	config.FamilyGoogle,
	config.FamilyHuggingFace,
}

// ClientFunc builds the outbound HTTP client for a provider.
type ClientFunc func(timeout time.Duration) *http.Client

// BuildCatalog constructs every configured adapter and freezes the model catalog.
func BuildCatalog(cfg config.Config) (*provider.Catalog, error) {
	return BuildCatalogWithClient(cfg, NewHTTPClient)
}

// BuildCatalogWithClient is BuildCatalog with a caller-supplied client constructor.
func BuildCatalogWithClient(cfg config.Config, newClient ClientFunc) (*provider.Catalog, error) {
	enabled := cfg.Providers.Enabled()
	builder := provider.NewCatalogBuilder()

	for _, family := range families {
		pcfg, ok := enabled[family]
		if !ok {
			continue
		}

		timeout := pcfg.Timeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}

		adapter, err := newAdapter(family, pcfg, newClient(timeout))
		if err != nil {
			return nil, fmt.Errorf("initialise %s provider: %w", family, err)
		}

		for _, mc := range pcfg.Models {
			input, output, err := mc.Prices()
			if err != nil {
				return nil, fmt.Errorf("provider %s: model %s: %w", family, mc.ID, err)
			}
			builder.Add(provider.Entry{
				Model: models.Model{
					ID:       mc.ID,
					Provider: family,
					Upstream: mc.UpstreamName(),
				},
				Adapter: adapter,
				Pricing: provider.Pricing{
					InputPerToken:  input,
					OutputPerToken: output,
				},
				Limits: provider.Limits{
					MaxTokens:     mc.MaxTokens,
					ContextWindow: mc.ContextWindow,
				},
				Reasoning: mc.Reasoning,
			})
		}
		for alias, target := range pcfg.Aliases {
			builder.Alias(alias, target)
		}
	}

	catalog, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build model catalog: %w", err)
	}
	return catalog, nil
}

func newAdapter(family string, cfg config.ProviderConfig, client *http.Client) (provider.Adapter, error) {
	switch family {
	case config.FamilyOpenAI:
		return openaiProvider.New(family, cfg, client)
	case config.FamilyAnthropic:
		return anthropicProvider.New(family, cfg, client)
	case config.FamilyGoogle:
		return googleProvider.New(family, cfg, client)
	case config.FamilyHuggingFace:
		return huggingfaceProvider.New(family, cfg, client)
	default:
		return nil, fmt.Errorf("unsupported provider family %q", family)
	}
}

// NewHTTPClient returns the pooled client used for one provider.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
