package usage

import (
	"context"
	"sync"

	"chatrouter/internal/models"
)

// Memory is an in-process ledger. Totals are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	totals map[string]Totals
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{totals: make(map[string]Totals)}
}

func (m *Memory) Record(_ context.Context, result models.NormalizedResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.totals[result.Model]
	t.Model = result.Model
	t.Provider = result.Provider
	t.Requests++
	t.PromptTokens += int64(result.PromptTokens)
	t.CompletionTokens += int64(result.CompletionTokens)
	t.CostUSD = t.CostUSD.Add(result.EstimatedCostUSD)
	m.totals[result.Model] = t
	return nil
}

func (m *Memory) Snapshot(_ context.Context) ([]Totals, error) {
	m.mu.RLock()
	out := make([]Totals, 0, len(m.totals))
	for _, t := range m.totals {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sortTotals(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
