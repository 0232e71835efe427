// Package huggingface implements provider.Adapter for the Hugging Face
// Inference API text-generation task. The conversation is flattened into a
// single prompt and the API reports no token usage.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"chatrouter/internal/config"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
)

// Adapter implements Hugging Face Inference API interactions.
type Adapter struct {
	name     string
	endpoint provider.Endpoint
	baseURL  string
}

// New constructs a Hugging Face adapter instance.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Adapter{
		name: name,
		endpoint: provider.Endpoint{
			Provider: name,
			Client:   client,
			Headers:  headers,
		},
		baseURL: baseURL,
	}, nil
}

func (a *Adapter) Name() string {
	return a.name
}

// URL returns the inference endpoint for an upstream repository id.
func (a *Adapter) URL(upstream string) string {
	return a.baseURL + "/models/" + strings.TrimPrefix(upstream, "/")
}

func (a *Adapter) Invoke(ctx context.Context, payload provider.Payload) (provider.RawResponse, error) {
	if strings.TrimSpace(payload.Upstream) == "" {
		return provider.RawResponse{}, provider.NewError(provider.KindInvalidRequest, a.name, "payload has no upstream model")
	}
	return a.endpoint.Post(ctx, a.URL(payload.Upstream), payload.Body)
}

type generationPayload struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

func (a *Adapter) BuildPayload(req models.ChatRequest, upstream string) (provider.Payload, error) {
	if len(req.Messages) == 0 {
		return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "request requires at least one message")
	}

	var prompt strings.Builder
	if block := provider.ContextBlock(req.ContextText); block != "" {
		prompt.WriteString(block)
		prompt.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "message content must not be empty")
		}
		prompt.WriteString(speaker(msg.Role))
		prompt.WriteString(": ")
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n\n")
	}

	body, err := json.Marshal(generationPayload{
		Inputs: prompt.String(),
		Parameters: parameters{
			MaxNewTokens: provider.MaxTokens(req),
			Temperature:  provider.Temperature(req),
		},
	})
	if err != nil {
		return provider.Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return provider.Payload{Upstream: upstream, Body: body}, nil
}

// speaker capitalises a role for the flattened transcript: "user" -> "User".
func speaker(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return "User"
	}
	r := []rune(strings.ToLower(role))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

type generation struct {
	GeneratedText *string `json:"generated_text"`
}

func (a *Adapter) ParseResponse(raw provider.RawResponse) (models.Completion, error) {
	if !raw.OK() {
		msg := errorMessage(raw.Body)
		if raw.StatusCode == http.StatusServiceUnavailable {
			msg = "model is loading: " + msg
		}
		return models.Completion{}, provider.StatusError(a.name, raw.StatusCode, msg)
	}

	var results []generation
	if err := provider.DecodeJSON(a.name, raw.Body, &results); err != nil {
		// Some endpoints answer with a bare object instead of a list.
		var single generation
		if json.Unmarshal(raw.Body, &single) != nil {
			return models.Completion{}, err
		}
		results = []generation{single}
	}

	if len(results) == 0 || results[0].GeneratedText == nil {
		return models.Completion{}, provider.Malformed(a.name, "response did not include generated_text")
	}
	text := strings.TrimSpace(*results[0].GeneratedText)
	if text == "" {
		return models.Completion{}, provider.Malformed(a.name, "generated_text is empty")
	}

	return models.Completion{Text: text}, nil
}

type apiErrorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

func errorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		if apiErr.EstimatedTime > 0 {
			return fmt.Sprintf("%s (retry in %.0fs)", apiErr.Error, apiErr.EstimatedTime)
		}
		return apiErr.Error
	}
	return provider.Truncate(string(body), 200)
}
