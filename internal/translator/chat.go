package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatrouter/internal/models"
	"chatrouter/internal/provider"
	"chatrouter/internal/usage"
)

// ChatRequest is the native POST /v1/chat body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	ContextText string        `json:"context_text"`
	MaxTokens   *int          `json:"max_tokens"`
	Temperature *float64      `json:"temperature"`
}

// UnmarshalJSON decodes and validates the payload.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}
	*r = ChatRequest(raw)
	r.Model = strings.TrimSpace(r.Model)

	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// ToChatRequest converts the wire request into the canonical format.
func (r ChatRequest) ToChatRequest() models.ChatRequest {
	return models.ChatRequest{
		ModelID:     r.Model,
		Messages:    toMessages(r.Messages),
		ContextText: r.ContextText,
		MaxTokens:   derefInt(r.MaxTokens),
		Temperature: r.Temperature,
	}
}

// ChatResponse is the native POST /v1/chat reply.
type ChatResponse struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	Usage            UsageBody `json:"usage"`
	EstimatedCostUSD string    `json:"estimated_cost_usd"`
	FinishReason     string    `json:"finish_reason,omitempty"`
}

// UsageBody is the token counter block shared by the native responses.
type UsageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromChatResult renders a normalised result. The cost is a decimal string so
// clients never see float rounding.
func FromChatResult(res models.NormalizedResult) ChatResponse {
	u := res.Usage()
	return ChatResponse{
		ID:       res.ID,
		Text:     res.Text,
		Model:    res.Model,
		Provider: res.Provider,
		Usage: UsageBody{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		},
		EstimatedCostUSD: res.EstimatedCostUSD.String(),
		FinishReason:     res.FinishReason,
	}
}

// ModelBody describes one catalog entry for GET /v1/models.
type ModelBody struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	OwnedBy       string   `json:"owned_by"`
	Upstream      string   `json:"upstream"`
	Aliases       []string `json:"aliases,omitempty"`
	InputPrice    string   `json:"input_price_per_token"`
	OutputPrice   string   `json:"output_price_per_token"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
	Reasoning     bool     `json:"reasoning,omitempty"`
}

// ModelList is the OpenAI-style list envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelBody `json:"data"`
}

// FromEntry renders a catalog entry.
func FromEntry(entry provider.Entry, aliases []string) ModelBody {
	return ModelBody{
		ID:            entry.Model.ID,
		Object:        "model",
		OwnedBy:       entry.Model.Provider,
		Upstream:      entry.Model.Upstream,
		Aliases:       aliases,
		InputPrice:    entry.Pricing.InputPerToken.String(),
		OutputPrice:   entry.Pricing.OutputPerToken.String(),
		MaxTokens:     entry.Limits.MaxTokens,
		ContextWindow: entry.Limits.ContextWindow,
		Reasoning:     entry.Reasoning,
	}
}

// UsageEntry is one row of GET /v1/usage.
type UsageEntry struct {
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	CostUSD          string `json:"cost_usd"`
}

// UsageReport is the GET /v1/usage body.
type UsageReport struct {
	Models       []UsageEntry `json:"models"`
	TotalCostUSD string       `json:"total_cost_usd"`
}

// FromTotals renders the usage ledger.
func FromTotals(totals []usage.Totals) UsageReport {
	report := UsageReport{
		Models:       make([]UsageEntry, 0, len(totals)),
		TotalCostUSD: totalsCost(totals),
	}
	for _, t := range totals {
		report.Models = append(report.Models, UsageEntry{
			Model:            t.Model,
			Provider:         t.Provider,
			Requests:         t.Requests,
			PromptTokens:     t.PromptTokens,
			CompletionTokens: t.CompletionTokens,
			TotalTokens:      t.TotalTokens(),
			CostUSD:          t.CostUSD.String(),
		})
	}
	return report
}

func totalsCost(totals []usage.Totals) string {
	if len(totals) == 0 {
		return "0"
	}
	sum := totals[0].CostUSD
	for _, t := range totals[1:] {
		sum = sum.Add(t.CostUSD)
	}
	return sum.String()
}

// ErrorBody is the error envelope of every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the canonical error kind and the provider that produced it.
type ErrorDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Provider string `json:"provider,omitempty"`
}
