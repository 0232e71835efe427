package factory

import (
	"net/http"
	"testing"
	"time"

	"chatrouter/internal/config"
)

func fullConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Providers: config.ProvidersConfig{
			OpenAI: &config.ProviderConfig{
				APIKey:  "sk",
				BaseURL: "https://api.openai.com/v1",
				Models: []config.ModelConfig{
					{ID: "gpt-4", InputPrice: "0.00003", OutputPrice: "0.00006", MaxTokens: 4000, ContextWindow: 8000},
					{ID: "o1-mini", Reasoning: true},
				},
			},
			Anthropic: &config.ProviderConfig{
				APIKey:  "sk-ant",
				BaseURL: "https://api.anthropic.com",
				Timeout: 90 * time.Second,
				Models: []config.ModelConfig{
					{ID: "claude-3-haiku", Upstream: "claude-3-haiku-20240307"},
				},
			},
			Google: &config.ProviderConfig{
				APIKey:  "g",
				BaseURL: "https://generativelanguage.googleapis.com",
				Models: []config.ModelConfig{
					{ID: "gemini-1.5-pro", Upstream: "models/gemini-1.5-pro-002"},
				},
				Aliases: map[string]string{"gemini-pro": "gemini-1.5-pro"},
			},
			HuggingFace: &config.ProviderConfig{
				APIKey:  "hf",
				BaseURL: "https://api-inference.huggingface.co",
				Models: []config.ModelConfig{
					{ID: "mixtral-8x7b", Upstream: "mistralai/Mixtral-8x7B-Instruct-v0.1"},
				},
			},
		},
	}
}

func TestBuildCatalog(t *testing.T) {
	timeouts := map[time.Duration]int{}
	catalog, err := BuildCatalogWithClient(fullConfig(), func(timeout time.Duration) *http.Client {
		timeouts[timeout]++
		return NewHTTPClient(timeout)
	})
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	if catalog.Len() != 5 {
		t.Fatalf("expected 5 models, got %d", catalog.Len())
	}
	if timeouts[defaultHTTPTimeout] != 3 || timeouts[90*time.Second] != 1 {
		t.Fatalf("unexpected client timeouts: %v", timeouts)
	}

	expect := map[string]struct{ provider, upstream string }{
		"gpt-4":          {"openai", "gpt-4"},
		"claude-3-haiku": {"anthropic", "claude-3-haiku-20240307"},
		"gemini-pro":     {"google", "models/gemini-1.5-pro-002"},
		"mixtral-8x7b":   {"huggingface", "mistralai/Mixtral-8x7B-Instruct-v0.1"},
	}
	for id, want := range expect {
		entry, err := catalog.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve %s: %v", id, err)
		}
		if entry.Model.Provider != want.provider || entry.Model.Upstream != want.upstream {
			t.Fatalf("%s: got provider %q upstream %q", id, entry.Model.Provider, entry.Model.Upstream)
		}
		if entry.Adapter.Name() != want.provider {
			t.Fatalf("%s: adapter %q", id, entry.Adapter.Name())
		}
	}

	gpt4, _ := catalog.Resolve("gpt-4")
	if gpt4.Limits.ContextWindow != 8000 || gpt4.Pricing.OutputPerToken.String() != "0.00006" {
		t.Fatalf("unexpected gpt-4 entry: %+v", gpt4)
	}
	o1, _ := catalog.Resolve("o1-mini")
	if !o1.Reasoning {
		t.Fatal("o1-mini must be flagged as reasoning")
	}
}

func TestBuildCatalogRejectsBadAlias(t *testing.T) {
	cfg := fullConfig()
	cfg.Providers.Google.Aliases = map[string]string{"gemini-pro": "gemini-9"}
	if _, err := BuildCatalog(cfg); err == nil {
		t.Fatal("expected error for alias to unknown model")
	}
}

func TestBuildCatalogRejectsBadPrice(t *testing.T) {
	cfg := fullConfig()
	cfg.Providers.OpenAI.Models[0].InputPrice = "free"
	if _, err := BuildCatalog(cfg); err == nil {
		t.Fatal("expected error for unparsable price")
	}
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %v", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport.MaxIdleConns != 50 {
		t.Fatalf("unexpected transport: %#v", client.Transport)
	}
}
