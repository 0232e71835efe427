package openai

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

// Adapter implements provider.Adapter for OpenAI-compatible chat completion APIs.
type Adapter struct {
	name      string
	endpoint  provider.Endpoint
	chatURL   string
	reasoning map[string]bool
}

// New creates a new OpenAI adapter.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	headers["Authorization"] = "Bearer " + cfg.APIKey
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	reasoning := make(map[string]bool)
	for _, model := range cfg.Models {
		if model.Reasoning {
			reasoning[model.UpstreamName()] = true
		}
	}

	return &Adapter{
		name: name,
		endpoint: provider.Endpoint{
			Provider: name,
			Client:   client,
			Headers:  headers,
		},
		chatURL:   baseURL + "/chat/completions",
		reasoning: reasoning,
	}, nil
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Invoke(ctx context.Context, payload provider.Payload) (provider.RawResponse, error) {
	return a.endpoint.Post(ctx, a.chatURL, payload.Body)
}

type chatPayload struct {
	Model               string    `json:"model"`
	Messages            []message `json:"messages"`
	MaxTokens           *int      `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int      `json:"max_completion_tokens,omitempty"`
	Temperature         *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *Adapter) BuildPayload(req models.ChatRequest, upstream string) (provider.Payload, error) {
	messages := make([]message, 0, len(req.Messages)+1)
	if block := provider.ContextBlock(req.ContextText); block != "" {
		messages = append(messages, message{Role: models.RoleSystem, Content: block})
	}

	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "message content must not be empty")
		}
		messages = append(messages, message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	payload := chatPayload{
		Model:    upstream,
		Messages: messages,
	}

	maxTokens := provider.MaxTokens(req)
	if a.reasoning[upstream] {
		payload.MaxCompletionTokens = &maxTokens
	} else {
		temperature := provider.Temperature(req)
		payload.MaxTokens = &maxTokens
		payload.Temperature = &temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return provider.Payload{Upstream: upstream, Body: body}, nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (a *Adapter) ParseResponse(raw provider.RawResponse) (models.Completion, error) {
	if !raw.OK() {
		return models.Completion{}, provider.StatusError(a.name, raw.StatusCode, errorMessage(raw.Body))
	}

	var resp chatResponse
	if err := provider.DecodeJSON(a.name, raw.Body, &resp); err != nil {
		return models.Completion{}, err
	}

	if len(resp.Choices) == 0 {
		return models.Completion{}, provider.Malformed(a.name, "response did not include choices")
	}

	choice := resp.Choices[0]
	if choice.Message.Content == nil || *choice.Message.Content == "" {
		return models.Completion{}, provider.Malformed(a.name, "choice message has no content")
	}

	out := models.Completion{
		ID:           resp.ID,
		Text:         *choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
		out.TotalTokens = resp.Usage.TotalTokens
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func errorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		if apiErr.Error.Type != "" {
			return fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return apiErr.Error.Message
	}
	return provider.Truncate(string(body), 200)
}
