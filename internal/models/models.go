package models

import "github.com/shopspring/decimal"

// Conversation roles accepted by the router.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversational message in the canonical schema.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is the canonical representation of a chat turn.
type ChatRequest struct {
	ModelID     string
	Messages    []Message
	ContextText string

	// Optional overrides. Zero values select the model defaults.
	MaxTokens   int
	Temperature *float64
}

// Completion is what a provider adapter extracts from a successful response.
type Completion struct {
	ID               string
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NormalizedResult is the provider-independent outcome of one chat call.
type NormalizedResult struct {
	ID               string
	Model            string
	Provider         string
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD decimal.Decimal
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Usage returns the token counters of the result.
func (r NormalizedResult) Usage() Usage {
	return Usage{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
	Upstream string
}
