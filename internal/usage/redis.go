package usage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"chatrouter/internal/models"
)

// Hash fields of a per-model usage key.
const (
	fieldProvider         = "provider"
	fieldRequests         = "requests"
	fieldPromptTokens     = "prompt_tokens"
	fieldCompletionTokens = "completion_tokens"
	fieldCostUnits        = "cost_picousd"
)

// costScale is the decimal exponent of stored cost units. Redis has no exact
// decimal increment, so cost is summed as an integer count of 1e-12 USD.
const costScale = 12

func costToUnits(cost decimal.Decimal) int64 {
	return cost.Shift(costScale).Round(0).IntPart()
}

func unitsToCost(units int64) decimal.Decimal {
	return decimal.New(units, -costScale)
}

// Redis keeps the ledger in one hash per model plus a set of model ids,
// so several router instances can share totals.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) modelsKey() string {
	return r.key("models")
}

func (r *Redis) modelKey(model string) string {
	return r.key("model:" + model)
}

func (r *Redis) Record(ctx context.Context, result models.NormalizedResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	key := r.modelKey(result.Model)
	cost := costToUnits(result.EstimatedCostUSD)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.modelsKey(), result.Model)
		pipe.HSet(ctx, key, fieldProvider, result.Provider)
		pipe.HIncrBy(ctx, key, fieldRequests, 1)
		pipe.HIncrBy(ctx, key, fieldPromptTokens, int64(result.PromptTokens))
		pipe.HIncrBy(ctx, key, fieldCompletionTokens, int64(result.CompletionTokens))
		pipe.HIncrBy(ctx, key, fieldCostUnits, cost)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record usage failed: %w", err)
	}
	return nil
}

func (r *Redis) Snapshot(ctx context.Context) ([]Totals, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	ids, err := r.client.SMembers(ctx, r.modelsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list models failed: %w", err)
	}

	out := make([]Totals, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, r.modelKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis read usage for %s failed: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		t, err := totalsFromHash(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	sortTotals(out)
	return out, nil
}

func totalsFromHash(model string, fields map[string]string) (Totals, error) {
	t := Totals{Model: model, Provider: fields[fieldProvider]}

	ints := []struct {
		name string
		dst  *int64
	}{
		{fieldRequests, &t.Requests},
		{fieldPromptTokens, &t.PromptTokens},
		{fieldCompletionTokens, &t.CompletionTokens},
	}
	for _, f := range ints {
		raw, ok := fields[f.name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Totals{}, fmt.Errorf("usage for %s: field %s: %w", model, f.name, err)
		}
		*f.dst = v
	}

	if raw, ok := fields[fieldCostUnits]; ok {
		units, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Totals{}, fmt.Errorf("usage for %s: field %s: %w", model, fieldCostUnits, err)
		}
		t.CostUSD = unitsToCost(units)
	}
	return t, nil
}

// Ping checks if the Redis connection is healthy.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
