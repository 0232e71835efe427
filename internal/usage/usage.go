// Package usage keeps a caller-side ledger of tokens and spend per model.
// The router never reads it back; it exists for reporting (GET /v1/usage).
package usage

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"chatrouter/internal/models"
)

// Totals is the accumulated usage of one model.
type Totals struct {
	Model            string
	Provider         string
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          decimal.Decimal
}

// TotalTokens returns prompt plus completion tokens.
func (t Totals) TotalTokens() int64 {
	return t.PromptTokens + t.CompletionTokens
}

// Recorder accumulates usage of successful chat calls.
type Recorder interface {
	Record(ctx context.Context, result models.NormalizedResult) error
	Snapshot(ctx context.Context) ([]Totals, error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, models.NormalizedResult) error { return nil }
func (Nop) Snapshot(context.Context) ([]Totals, error)            { return nil, nil }
func (Nop) Close() error                                          { return nil }

func sortTotals(totals []Totals) {
	sort.Slice(totals, func(i, j int) bool { return totals[i].Model < totals[j].Model })
}
