// Package google implements provider.Adapter for the Gemini generateContent REST API.
//
// Differences from the OpenAI shape that matter here:
//   - system text travels in the top-level systemInstruction field
//   - auth uses the x-goog-api-key header
//   - turns are "contents" with "parts"; the assistant role is called "model"
//   - generation settings nest under generationConfig
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatrouter/internal/config"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
)

const modelPrefix = "models/"

// Adapter implements Google Gemini API interactions.
type Adapter struct {
	name     string
	endpoint provider.Endpoint
	baseURL  string
}

// New constructs a Gemini adapter instance.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := map[string]string{
		"x-goog-api-key": cfg.APIKey,
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

// URL returns the generateContent endpoint for an upstream model name. Both
// "gemini-1.5-pro" and "models/gemini-1.5-pro" are accepted.
func (a *Adapter) URL(upstream string) string {
	model := strings.TrimPrefix(upstream, modelPrefix)
	return a.baseURL + "/v1beta/" + modelPrefix + model + ":generateContent"
}

func (a *Adapter) Invoke(ctx context.Context, payload provider.Payload) (provider.RawResponse, error) {
	if strings.TrimSpace(payload.Upstream) == "" {
		return provider.RawResponse{}, provider.NewError(provider.KindInvalidRequest, a.name, "payload has no upstream model")
	}
	return a.endpoint.Post(ctx, a.URL(payload.Upstream), payload.Body)
}

// SystemInstruction precedes Contents so injected context serialises first.
type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func (a *Adapter) BuildPayload(req models.ChatRequest, upstream string) (provider.Payload, error) {
	var systemParts []part
	if block := provider.ContextBlock(req.ContextText); block != "" {
		systemParts = append(systemParts, part{Text: block})
	}

	contents := make([]content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		text := msg.Content
		if strings.TrimSpace(text) == "" {
			return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "message content must not be empty")
		}
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, part{Text: text})
		case models.RoleUser:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: text}}})
		case models.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: text}}})
		default:
			return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, fmt.Sprintf("role %q is not supported", msg.Role))
		}
	}

	if len(contents) == 0 {
		return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "request requires at least one user or assistant message")
	}

	body := generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     provider.Temperature(req),
			MaxOutputTokens: provider.MaxTokens(req),
		},
	}
	if len(systemParts) > 0 {
		body.SystemInstruction = &content{Parts: systemParts}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return provider.Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return provider.Payload{Upstream: upstream, Body: data}, nil
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	ResponseID     string          `json:"responseId"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// Thinking tokens are billed as output.
type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

func (a *Adapter) ParseResponse(raw provider.RawResponse) (models.Completion, error) {
	if !raw.OK() {
		return models.Completion{}, a.statusError(raw)
	}

	var resp generateResponse
	if err := provider.DecodeJSON(a.name, raw.Body, &resp); err != nil {
		return models.Completion{}, err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return models.Completion{}, provider.Malformed(a.name, "prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return models.Completion{}, provider.Malformed(a.name, "response did not include candidates")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return models.Completion{}, provider.Malformed(a.name, "candidate has no text (finish reason %q)", cand.FinishReason)
	}

	out := models.Completion{
		ID:           resp.ResponseID,
		Text:         text.String(),
		FinishReason: cand.FinishReason,
	}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = u.PromptTokenCount
		out.CompletionTokens = u.CandidatesTokenCount + u.ThoughtsTokenCount
		out.TotalTokens = u.TotalTokenCount
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out, nil
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// authReasons are error statuses and detail reasons that mean the key was
// rejected. Gemini reports an invalid key as 400 INVALID_ARGUMENT.
var authReasons = map[string]struct{}{
	"API_KEY_INVALID":         {},
	"API_KEY_SERVICE_BLOCKED": {},
	"UNAUTHENTICATED":         {},
	"PERMISSION_DENIED":       {},
}

func (a *Adapter) statusError(raw provider.RawResponse) *provider.Error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(raw.Body, &apiErr)

	err := provider.StatusError(a.name, raw.StatusCode, errorMessage(raw.Body))
	if isAuthFailure(apiErr) {
		err.Kind = provider.KindAuth
	}
	return err
}

func isAuthFailure(apiErr apiErrorResponse) bool {
	if _, ok := authReasons[apiErr.Error.Status]; ok {
		return true
	}
	for _, d := range apiErr.Error.Details {
		if _, ok := authReasons[d.Reason]; ok {
			return true
		}
	}
	return false
}

func errorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		if apiErr.Error.Status != "" {
			return fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Status)
		}
		return apiErr.Error.Message
	}
	return provider.Truncate(string(body), 200)
}
