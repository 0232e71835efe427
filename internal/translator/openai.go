package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatrouter/internal/models"
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
	errStreaming      = errors.New("streaming responses are not supported")
)

var allowedRoles = map[string]struct{}{
	models.RoleSystem:    {},
	models.RoleUser:      {},
	models.RoleAssistant: {},
}

// ChatCompletionRequest models the OpenAI chat/completions request payload.
// Fields the router cannot honour (tools, logit_bias, ...) are ignored.
type ChatCompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   *int
	Temperature *float64
	// ContextText is a chatrouter extension carrying injected context.
	ContextText string
	User        string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model               string        `json:"model"`
		Messages            []ChatMessage `json:"messages"`
		Stream              bool          `json:"stream"`
		MaxTokens           *int          `json:"max_tokens"`
		MaxCompletionTokens *int          `json:"max_completion_tokens"`
		Temperature         *float64      `json:"temperature"`
		ContextText         string        `json:"context_text"`
		User                string        `json:"user"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	if raw.Stream {
		return errStreaming
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.MaxTokens = raw.MaxTokens
	if r.MaxTokens == nil {
		r.MaxTokens = raw.MaxCompletionTokens
	}
	r.Temperature = raw.Temperature
	r.ContextText = raw.ContextText
	r.User = raw.User

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// ToChatRequest converts the OpenAI request into the canonical format.
func (r ChatCompletionRequest) ToChatRequest() models.ChatRequest {
	return models.ChatRequest{
		ModelID:     r.Model,
		Messages:    toMessages(r.Messages),
		ContextText: r.ContextText,
		MaxTokens:   derefInt(r.MaxTokens),
		Temperature: r.Temperature,
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = content

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %q", errInvalidRole, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

func toMessages(in []ChatMessage) []models.Message {
	msgs := make([]models.Message, 0, len(in))
	for _, m := range in {
		msgs = append(msgs, models.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return msgs
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   OpenAIUsage  `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses. The cost
// field is a chatrouter extension.
type OpenAIUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	EstimatedCostUSD string `json:"estimated_cost_usd"`
}

// FromResult constructs the OpenAI response shape from a normalised result.
func FromResult(createdUnix int64, res models.NormalizedResult) ChatCompletionResponse {
	u := res.Usage()
	return ChatCompletionResponse{
		ID:      res.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   res.Model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    models.RoleAssistant,
					Content: res.Text,
				},
				FinishReason: finishReason(res.FinishReason),
			},
		},
		Usage: OpenAIUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
			EstimatedCostUSD: res.EstimatedCostUSD.String(),
		},
	}
}

// finishReason maps provider stop reasons onto OpenAI's vocabulary.
func finishReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop", "end_turn", "stop_sequence":
		return "stop"
	case "length", "max_tokens":
		return "length"
	case "safety", "recitation", "content_filter":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

func derefInt(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
