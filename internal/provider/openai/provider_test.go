package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatrouter/internal/config"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	a, err := New("openai", config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: baseURL,
		Models: []config.ModelConfig{
			{ID: "gpt-4"},
			{ID: "o1-mini", Reasoning: true},
		},
	}, http.DefaultClient)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func chatRequest() models.ChatRequest {
	return models.ChatRequest{
		ModelID: "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "Hello"},
		},
		ContextText: "Doc: the sky is blue.",
	}
}

func TestBuildPayloadDeterministic(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	first, err := a.BuildPayload(chatRequest(), "gpt-4")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	second, err := a.BuildPayload(chatRequest(), "gpt-4")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Fatalf("payloads differ:\n%s\n%s", first.Body, second.Body)
	}
}

func TestBuildPayloadContextFirst(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	payload, err := a.BuildPayload(chatRequest(), "gpt-4")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}

	var body struct {
		Model       string    `json:"model"`
		Messages    []message `json:"messages"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
	}
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected context + user message, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != "system" || body.Messages[0].Content != "Doc: the sky is blue." {
		t.Fatalf("context must lead the conversation, got %+v", body.Messages[0])
	}
	if body.Messages[1].Role != "user" {
		t.Fatalf("expected user message second, got %+v", body.Messages[1])
	}
	if body.MaxTokens != provider.DefaultMaxTokens || body.Temperature != provider.DefaultTemperature {
		t.Fatalf("expected defaults, got max_tokens=%d temperature=%v", body.MaxTokens, body.Temperature)
	}
}

func TestBuildPayloadReasoningModel(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	req := chatRequest()
	req.ModelID = "o1-mini"
	payload, err := a.BuildPayload(req, "o1-mini")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	s := string(payload.Body)
	if !strings.Contains(s, `"max_completion_tokens":4000`) {
		t.Fatalf("expected max_completion_tokens, got %s", s)
	}
	if strings.Contains(s, "temperature") || strings.Contains(s, `"max_tokens"`) {
		t.Fatalf("reasoning payload must omit temperature and max_tokens, got %s", s)
	}
}

func TestInvokeAndParseSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	payload, err := a.BuildPayload(chatRequest(), "gpt-4")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	raw, err := a.Invoke(context.Background(), payload)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	completion, err := a.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if !bytes.Equal(gotBody, payload.Body) {
		t.Fatal("server received a different body than BuildPayload produced")
	}
	if completion.Text != "Hi there" || completion.PromptTokens != 10 || completion.CompletionTokens != 5 || completion.TotalTokens != 15 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if completion.ID != "chatcmpl-1" || completion.FinishReason != "stop" {
		t.Fatalf("unexpected metadata: %+v", completion)
	}
}

func TestParseResponseTotalFallback(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	completion, err := a.ParseResponse(provider.RawResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`),
	})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if completion.TotalTokens != 7 {
		t.Fatalf("TotalTokens = %d, want 7", completion.TotalTokens)
	}
}

func TestParseResponseErrors(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, provider.ErrAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`, provider.ErrRateLimit},
		{"server error", http.StatusInternalServerError, `oops`, provider.ErrUpstreamUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, provider.ErrInvalidRequest},
		{"truncated", http.StatusOK, `{"choices":[{"message":{"content":"Hi`, provider.ErrMalformedResponse},
		{"no choices", http.StatusOK, `{"choices":[]}`, provider.ErrMalformedResponse},
		{"null content", http.StatusOK, `{"choices":[{"message":{"content":null}}]}`, provider.ErrMalformedResponse},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":""}}]}`, provider.ErrMalformedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.ParseResponse(provider.RawResponse{StatusCode: tc.status, Body: []byte(tc.body)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParseResponseCarriesProviderMessage(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid")
	_, err := a.ParseResponse(provider.RawResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       []byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`),
	})
	pe, ok := provider.AsError(err)
	if !ok {
		t.Fatalf("expected *provider.Error, got %T", err)
	}
	if pe.Provider != "openai" || !strings.Contains(pe.Message, "Incorrect API key provided") {
		t.Fatalf("unexpected error detail: %+v", pe)
	}
}

func TestInvokeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Invoke(ctx, provider.Payload{Upstream: "gpt-4", Body: []byte(`{}`)})
	if !errors.Is(err, provider.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}
