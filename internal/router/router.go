package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrouter/internal/logging"
	"chatrouter/internal/metrics"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
)

// charsPerToken is the heuristic used by the context-window guard.
const charsPerToken = 3

// Router dispatches chat requests to the provider that serves the model.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	catalog *provider.Catalog
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records upstream calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New constructs a router backed by the provided catalog.
func New(catalog *provider.Catalog, opts ...Option) *Router {
	r := &Router{
		catalog: catalog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the catalog entry for a model id or alias.
func (r *Router) Resolve(modelID string) (provider.Entry, error) {
	return r.catalog.Resolve(modelID)
}

// Models lists the configured models sorted by id.
func (r *Router) Models() []provider.Entry {
	return r.catalog.Entries()
}

// Aliases lists the alternative ids that resolve to modelID.
func (r *Router) Aliases(modelID string) []string {
	return r.catalog.Aliases(modelID)
}

// SendChat validates the request, calls the model's provider once and
// normalises the reply. Unknown models and invalid requests fail before any
// network call.
func (r *Router) SendChat(ctx context.Context, req models.ChatRequest) (models.NormalizedResult, error) {
	if err := validate(req); err != nil {
		return models.NormalizedResult{}, err
	}

	entry, err := r.catalog.Resolve(req.ModelID)
	if err != nil {
		return models.NormalizedResult{}, err
	}
	model := entry.Model
	adapter := entry.Adapter

	log := logging.FromContext(ctx).With(
		zap.String("model", model.ID),
		zap.String("provider", model.Provider),
		zap.String("upstream", model.Upstream),
	)

	prepared := req
	prepared.ModelID = model.ID
	prepared.MaxTokens = effectiveMaxTokens(req, entry.Limits)

	if err := checkContextWindow(prepared, entry); err != nil {
		log.Warn("chat request rejected", zap.Error(err))
		return models.NormalizedResult{}, err
	}

	payload, err := adapter.BuildPayload(prepared, model.Upstream)
	if err != nil {
		return models.NormalizedResult{}, err
	}

	start := r.now()
	raw, err := adapter.Invoke(ctx, payload)
	var completion models.Completion
	if err == nil {
		completion, err = adapter.ParseResponse(raw)
	}
	elapsed := r.now().Sub(start)

	if err != nil {
		r.metrics.ObserveUpstream(model.Provider, model.ID, outcome(err), elapsed)
		log.Warn("chat request failed",
			zap.Int("status", raw.StatusCode),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return models.NormalizedResult{}, fmt.Errorf("model %s: %w", model.ID, err)
	}

	result := models.NormalizedResult{
		ID:               completion.ID,
		Model:            model.ID,
		Provider:         model.Provider,
		Text:             completion.Text,
		FinishReason:     completion.FinishReason,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		TotalTokens:      completion.TotalTokens,
		EstimatedCostUSD: entry.Pricing.Cost(completion.PromptTokens, completion.CompletionTokens),
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	r.metrics.ObserveUpstream(model.Provider, model.ID, metrics.OutcomeSuccess, elapsed)
	r.metrics.AddTokens(model.Provider, model.ID, result.PromptTokens, result.CompletionTokens)
	log.Info("chat request completed",
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.String("estimated_cost_usd", result.EstimatedCostUSD.String()),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func validate(req models.ChatRequest) error {
	if len(req.Messages) == 0 {
		return provider.NewError(provider.KindInvalidRequest, "", "messages must not be empty")
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return provider.NewError(provider.KindInvalidRequest, "", fmt.Sprintf("messages[%d]: role %q is not supported", i, msg.Role))
		}
		if strings.TrimSpace(msg.Content) == "" {
			return provider.NewError(provider.KindInvalidRequest, "", fmt.Sprintf("messages[%d]: content must not be empty", i))
		}
	}
	if req.MaxTokens < 0 {
		return provider.NewError(provider.KindInvalidRequest, "", "max_tokens must not be negative")
	}
	if t := req.Temperature; t != nil && (*t < 0 || *t > 2) {
		return provider.NewError(provider.KindInvalidRequest, "", fmt.Sprintf("temperature %.2f must be between 0 and 2", *t))
	}
	return nil
}

// effectiveMaxTokens applies the default and caps it at the model limit.
func effectiveMaxTokens(req models.ChatRequest, limits provider.Limits) int {
	maxTokens := provider.MaxTokens(req)
	if limits.MaxTokens > 0 && maxTokens > limits.MaxTokens {
		maxTokens = limits.MaxTokens
	}
	return maxTokens
}

// EstimateTokens approximates the prompt size of a request.
func EstimateTokens(req models.ChatRequest) int {
	chars := len([]rune(req.ContextText))
	for _, msg := range req.Messages {
		chars += len([]rune(msg.Content))
	}
	return chars / charsPerToken
}

func checkContextWindow(req models.ChatRequest, entry provider.Entry) error {
	window := entry.Limits.ContextWindow
	if window <= 0 {
		return nil
	}
	estimated := EstimateTokens(req)
	if estimated+req.MaxTokens > window {
		return provider.NewError(provider.KindInvalidRequest, entry.Model.Provider, fmt.Sprintf(
			"estimated %d prompt tokens plus max_tokens %d exceeds context window %d of %s",
			estimated, req.MaxTokens, window, entry.Model.ID,
		))
	}
	return nil
}

func outcome(err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
