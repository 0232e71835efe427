package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"chatrouter/internal/models"
)

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// Pricing holds USD prices per token.
type Pricing struct {
	InputPerToken  decimal.Decimal
	OutputPerToken decimal.Decimal
}

// Cost returns promptTokens*input + completionTokens*output.
func (p Pricing) Cost(promptTokens, completionTokens int) decimal.Decimal {
	in := p.InputPerToken.Mul(decimal.NewFromInt(int64(promptTokens)))
	out := p.OutputPerToken.Mul(decimal.NewFromInt(int64(completionTokens)))
	return in.Add(out)
}

// Limits bounds a single request. Zero means unbounded.
type Limits struct {
	MaxTokens     int
	ContextWindow int
}

// Entry is one resolvable model.
type Entry struct {
	Model   models.Model
	Adapter Adapter
	Pricing Pricing
	Limits  Limits

	// Reasoning models take max_completion_tokens and no temperature.
	Reasoning bool
}

// Catalog maps public model ids to entries. It is read-only once built.
type Catalog struct {
	entries map[string]Entry
	ids     []string
}

// CatalogBuilder accumulates entries before the catalog is frozen.
type CatalogBuilder struct {
	entries map[string]Entry
	aliases map[string]string
	err     error
}

// NewCatalogBuilder constructs an empty builder.
func NewCatalogBuilder() *CatalogBuilder {
	return &CatalogBuilder{
		entries: make(map[string]Entry),
		aliases: make(map[string]string),
	}
}

// Add registers an entry under its model id.
func (b *CatalogBuilder) Add(entry Entry) *CatalogBuilder {
	if b.err != nil {
		return b
	}
	if entry.Adapter == nil {
		b.err = fmt.Errorf("model %q: adapter must not be nil", entry.Model.ID)
		return b
	}
	id := strings.TrimSpace(entry.Model.ID)
	if id == "" {
		b.err = errors.New("model id must not be empty")
		return b
	}
	if _, exists := b.entries[id]; exists {
		b.err = fmt.Errorf("%w: %s", ErrDuplicateModel, id)
		return b
	}
	entry.Model.ID = id
	if entry.Model.Provider == "" {
		entry.Model.Provider = entry.Adapter.Name()
	}
	if entry.Model.Upstream == "" {
		entry.Model.Upstream = id
	}
	b.entries[id] = entry
	return b
}

// Alias makes alias resolve to the entry registered as target.
func (b *CatalogBuilder) Alias(alias, target string) *CatalogBuilder {
	if b.err != nil {
		return b
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		b.err = errors.New("alias name must not be empty")
		return b
	}
	if _, exists := b.aliases[alias]; exists {
		b.err = fmt.Errorf("alias %q registered twice", alias)
		return b
	}
	b.aliases[alias] = strings.TrimSpace(target)
	return b
}

// Build freezes the catalog, wiring aliases onto their targets.
func (b *CatalogBuilder) Build() (*Catalog, error) {
	if b.err != nil {
		return nil, b.err
	}

	entries := make(map[string]Entry, len(b.entries)+len(b.aliases))
	ids := make([]string, 0, len(b.entries))
	for id, entry := range b.entries {
		entries[id] = entry
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for alias, target := range b.aliases {
		if _, exists := entries[alias]; exists {
			return nil, fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		entry, ok := b.entries[target]
		if !ok {
			return nil, fmt.Errorf("alias %q references unknown model %q", alias, target)
		}
		entries[alias] = entry
	}

	return &Catalog{entries: entries, ids: ids}, nil
}

// Resolve returns the entry for a model id or alias.
func (c *Catalog) Resolve(modelID string) (Entry, error) {
	id := strings.TrimSpace(modelID)
	entry, ok := c.entries[id]
	if !ok {
		return Entry{}, &Error{
			Kind:    KindUnknownModel,
			Message: fmt.Sprintf("model %q is not configured", id),
		}
	}
	return entry, nil
}

// Entries lists the registered models (aliases excluded) sorted by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.entries[id])
	}
	return out
}

// Aliases returns the alias names pointing at modelID, sorted.
func (c *Catalog) Aliases(modelID string) []string {
	var out []string
	for name, entry := range c.entries {
		if name != entry.Model.ID && entry.Model.ID == modelID {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered models, aliases excluded.
func (c *Catalog) Len() int {
	return len(c.ids)
}
