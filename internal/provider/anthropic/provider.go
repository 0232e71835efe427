package anthropic

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

const (
	apiVersion    = "2023-06-01"
	defaultSystem = "You are a helpful AI assistant."
)

// Adapter implements Anthropic Messages API interactions.
type Adapter struct {
	name        string
	endpoint    provider.Endpoint
	messagesURL string
}

// New constructs an Anthropic adapter instance.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": apiVersion,
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
		messagesURL: baseURL + "/v1/messages",
	}, nil
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Invoke(ctx context.Context, payload provider.Payload) (provider.RawResponse, error) {
	return a.endpoint.Post(ctx, a.messagesURL, payload.Body)
}

// System precedes Messages so injected context serialises ahead of the conversation.
type messagePayload struct {
	Model       string    `json:"model"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (a *Adapter) BuildPayload(req models.ChatRequest, upstream string) (provider.Payload, error) {
	messages := make([]message, 0, len(req.Messages))
	var systemParts []string
	if block := provider.ContextBlock(req.ContextText); block != "" {
		systemParts = append(systemParts, block)
	}

	for _, msg := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case models.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case models.RoleUser, models.RoleAssistant:
			if strings.TrimSpace(msg.Content) == "" {
				return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "messages must not be empty")
			}
			messages = append(messages, message{
				Role: role,
				Content: []contentBlock{
					{Type: "text", Text: msg.Content},
				},
			})
		default:
			return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, fmt.Sprintf("role %q is not supported", msg.Role))
		}
	}

	if len(messages) == 0 {
		return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "request requires at least one user message")
	}
	if messages[0].Role != models.RoleUser {
		return provider.Payload{}, provider.NewError(provider.KindInvalidRequest, a.name, "conversation must start with a user message")
	}

	system := defaultSystem
	if len(systemParts) > 0 {
		system = strings.Join(systemParts, "\n\n")
	}

	payload := messagePayload{
		Model:       upstream,
		System:      system,
		Messages:    messages,
		MaxTokens:   provider.MaxTokens(req),
		Temperature: provider.Temperature(req),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return provider.Payload{Upstream: upstream, Body: body}, nil
}

type messageResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Usage      *usageBlock    `json:"usage"`
	StopReason string         `json:"stop_reason"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *Adapter) ParseResponse(raw provider.RawResponse) (models.Completion, error) {
	if !raw.OK() {
		return models.Completion{}, provider.StatusError(a.name, raw.StatusCode, errorMessage(raw.Body))
	}

	var resp messageResponse
	if err := provider.DecodeJSON(a.name, raw.Body, &resp); err != nil {
		return models.Completion{}, err
	}

	if len(resp.Content) == 0 {
		return models.Completion{}, provider.Malformed(a.name, "response missing content blocks")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.Completion{}, provider.Malformed(a.name, "response contained no text blocks")
	}

	out := models.Completion{
		ID:           resp.ID,
		Text:         text.String(),
		FinishReason: resp.StopReason,
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.InputTokens
		out.CompletionTokens = resp.Usage.OutputTokens
	}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	return out, nil
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
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
