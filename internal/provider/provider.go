package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrouter/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatrouter/0.1"

	maxResponseBytes = 4 << 20 // 4 MiB
)

// Adapter is the capability set every provider family implements.
type Adapter interface {
	Name() string
	BuildPayload(req models.ChatRequest, upstream string) (Payload, error)
	Invoke(ctx context.Context, payload Payload) (RawResponse, error)
	ParseResponse(raw RawResponse) (models.Completion, error)
}

// Payload is a provider request body together with the upstream model it targets.
// Providers that address the model in the URL read Upstream; the others carry it in Body.
type Payload struct {
	Upstream string
	Body     []byte
}

// RawResponse is an undecoded provider reply.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the provider answered with a 2xx status.
func (r RawResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Endpoint is the HTTP client side shared by the adapters.
type Endpoint struct {
	Provider string
	Client   *http.Client
	Headers  map[string]string
}

// Post issues one POST carrying body. Every HTTP status is returned as a
// RawResponse; only transport failures become errors.
func (e Endpoint) Post(ctx context.Context, url string, body []byte) (RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RawResponse{}, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return RawResponse{}, TransportError(e.Provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return RawResponse{}, TransportError(e.Provider, err)
	}

	return RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// DecodeJSON decodes a successful body, reporting failures as MalformedResponse.
func DecodeJSON(providerName string, body []byte, target any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return Malformed(providerName, "empty response body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return Malformed(providerName, "decode provider response: %v", err)
	}
	return nil
}

// Truncate limits raw bodies quoted in error messages.
func Truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ContextBlock renders injected context text; empty when there is none.
func ContextBlock(contextText string) string {
	return strings.TrimSpace(contextText)
}

// Defaults applied when a request leaves the generation settings unset.
const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
)

// MaxTokens returns the request's max_tokens or the default.
func MaxTokens(req models.ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

// Temperature returns the request's temperature or the default.
func Temperature(req models.ChatRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return DefaultTemperature
}
