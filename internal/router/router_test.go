package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"chatrouter/internal/config"
	"chatrouter/internal/logging"
	"chatrouter/internal/metrics"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
	"chatrouter/internal/provider/factory"
)

type stub struct {
	calls    atomic.Int32
	lastBody atomic.Value
	status   int
	body     string
}

func newStub(t *testing.T, status int, body string) (*stub, string) {
	t.Helper()
	s := &stub{status: status, body: body}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		s.lastBody.Store(string(raw))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.body)
	}))
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Usage:  config.UsageConfig{Backend: config.UsageBackendNone},
		Providers: config.ProvidersConfig{
			OpenAI: &config.ProviderConfig{
				APIKey:  "sk-test",
				BaseURL: baseURL,
				Models: []config.ModelConfig{
					{ID: "gpt-4", InputPrice: "0.00003", OutputPrice: "0.00006", MaxTokens: 4000, ContextWindow: 8000},
					{ID: "gpt-3.5-turbo", InputPrice: "0.0000015", OutputPrice: "0.000002", MaxTokens: 1000, ContextWindow: 16000},
				},
				Aliases: map[string]string{"gpt4": "gpt-4"},
			},
		},
	}
}

func newTestRouter(t *testing.T, baseURL string, opts ...Option) *Router {
	t.Helper()
	catalog, err := factory.BuildCatalog(testConfig(baseURL))
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	return New(catalog, opts...)
}

func testContext(t *testing.T) context.Context {
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func hello(model string) models.ChatRequest {
	return models.ChatRequest{
		ModelID:  model,
		Messages: []models.Message{{Role: models.RoleUser, Content: "Hello"}},
	}
}

const hiThere = `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

func TestSendChatNormalisesOpenAIReply(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url, WithMetrics(metrics.New()))

	result, err := rt.SendChat(testContext(t), hello("gpt-4"))
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	if result.Text != "Hi there" {
		t.Fatalf("Text = %q", result.Text)
	}
	if result.PromptTokens != 10 || result.CompletionTokens != 5 || result.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", result.Usage())
	}
	// 10*0.00003 + 5*0.00006
	if !result.EstimatedCostUSD.Equal(decimal.RequireFromString("0.0006")) {
		t.Fatalf("EstimatedCostUSD = %s, want 0.0006", result.EstimatedCostUSD)
	}
	if result.Model != "gpt-4" || result.Provider != "openai" || result.ID != "chatcmpl-1" {
		t.Fatalf("unexpected metadata: %+v", result)
	}
	if s.calls.Load() != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", s.calls.Load())
	}
}

func TestSendChatResolvesAlias(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)

	result, err := rt.SendChat(testContext(t), hello(" gpt4 "))
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if result.Model != "gpt-4" {
		t.Fatalf("alias must report the canonical model, got %q", result.Model)
	}
	var body struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal([]byte(s.lastBody.Load().(string)), &body); err != nil {
		t.Fatalf("decode upstream body: %v", err)
	}
	if body.Model != "gpt-4" {
		t.Fatalf("upstream model = %q", body.Model)
	}
}

func TestSendChatUnknownModelMakesNoCall(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)

	_, err := rt.SendChat(testContext(t), hello("gpt-5"))
	if !errors.Is(err, provider.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if s.calls.Load() != 0 {
		t.Fatalf("expected zero upstream calls, got %d", s.calls.Load())
	}
}

func TestSendChatValidation(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)
	hot := 3.5

	cases := []struct {
		name string
		req  models.ChatRequest
	}{
		{"no messages", models.ChatRequest{ModelID: "gpt-4"}},
		{"bad role", models.ChatRequest{ModelID: "gpt-4", Messages: []models.Message{{Role: "tool", Content: "x"}}}},
		{"blank content", models.ChatRequest{ModelID: "gpt-4", Messages: []models.Message{{Role: models.RoleUser, Content: "  "}}}},
		{"negative max tokens", models.ChatRequest{ModelID: "gpt-4", Messages: []models.Message{{Role: models.RoleUser, Content: "x"}}, MaxTokens: -1}},
		{"temperature out of range", models.ChatRequest{ModelID: "gpt-4", Messages: []models.Message{{Role: models.RoleUser, Content: "x"}}, Temperature: &hot}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rt.SendChat(testContext(t), tc.req)
			if !errors.Is(err, provider.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if s.calls.Load() != 0 {
		t.Fatalf("invalid requests must not reach the provider, got %d calls", s.calls.Load())
	}
}

func TestSendChatContextWindowGuard(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)

	req := hello("gpt-4")
	// 4000 max tokens leave room for 4000 prompt tokens, about 12000 characters.
	req.ContextText = strings.Repeat("a", 12003)

	_, err := rt.SendChat(testContext(t), req)
	if !errors.Is(err, provider.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "context window 8000") {
		t.Fatalf("unexpected message: %v", err)
	}
	if s.calls.Load() != 0 {
		t.Fatalf("expected zero upstream calls, got %d", s.calls.Load())
	}

	req.ContextText = strings.Repeat("a", 9000)
	if _, err := rt.SendChat(testContext(t), req); err != nil {
		t.Fatalf("request within the window failed: %v", err)
	}
}

func TestSendChatCapsMaxTokens(t *testing.T) {
	s, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)

	req := hello("gpt-3.5-turbo")
	req.MaxTokens = 5000
	if _, err := rt.SendChat(testContext(t), req); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if body := s.lastBody.Load().(string); !strings.Contains(body, `"max_tokens":1000`) {
		t.Fatalf("expected max_tokens capped at 1000, got %s", body)
	}
}

func TestSendChatProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, provider.ErrAuth},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, provider.ErrRateLimit},
		{"unavailable", http.StatusInternalServerError, `{}`, provider.ErrUpstreamUnavailable},
		{"malformed", http.StatusOK, `{"choices":`, provider.ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, url := newStub(t, tc.status, tc.body)
			rt := newTestRouter(t, url)

			_, err := rt.SendChat(testContext(t), hello("gpt-4"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			pe, ok := provider.AsError(err)
			if !ok || pe.Provider != "openai" {
				t.Fatalf("expected provider attribution, got %#v", err)
			}
		})
	}
}

func TestSendChatTransportFailure(t *testing.T) {
	_, url := newStub(t, http.StatusOK, hiThere)
	rt := newTestRouter(t, url)

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	_, err := rt.SendChat(ctx, hello("gpt-4"))
	if !errors.Is(err, provider.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSendChatAssignsIDWhenMissing(t *testing.T) {
	_, url := newStub(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	rt := newTestRouter(t, url)

	result, err := rt.SendChat(testContext(t), hello("gpt-4"))
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if result.ID == "" {
		t.Fatal("expected generated result id")
	}
	if !result.EstimatedCostUSD.IsZero() {
		t.Fatalf("no usage means no cost, got %s", result.EstimatedCostUSD)
	}
}

func TestModelsAndResolve(t *testing.T) {
	rt := newTestRouter(t, "http://example.invalid")

	entries := rt.Models()
	if len(entries) != 2 || entries[0].Model.ID != "gpt-3.5-turbo" || entries[1].Model.ID != "gpt-4" {
		t.Fatalf("unexpected models: %+v", entries)
	}
	if aliases := rt.Aliases("gpt-4"); len(aliases) != 1 || aliases[0] != "gpt4" {
		t.Fatalf("aliases = %v", aliases)
	}
	if _, err := rt.Resolve("claude-3-opus"); !errors.Is(err, provider.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := models.ChatRequest{
		ContextText: "abcdef",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "ghi"}},
	}
	if got := EstimateTokens(req); got != 3 {
		t.Fatalf("EstimateTokens = %d, want 3", got)
	}
}
