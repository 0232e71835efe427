package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrouter/internal/config"
)

const pingTimeout = 3 * time.Second

// New constructs the recorder selected by configuration. The Redis backend
// is pinged once so a bad address fails start-up instead of the first request.
func New(ctx context.Context, cfg config.UsageConfig) (Recorder, error) {
	switch cfg.Backend {
	case config.UsageBackendNone:
		return Nop{}, nil
	case config.UsageBackendMemory, "":
		return NewMemory(), nil
	case config.UsageBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		rec := NewRedis(client, cfg.Prefix)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := rec.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect usage redis at %s: %w", cfg.RedisAddr, err)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported usage backend %q", cfg.Backend)
	}
}
