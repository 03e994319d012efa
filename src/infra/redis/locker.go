package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"axoncore/src/infra/locks"
)

// Todas as chaves de um escopo usam a mesma hash tag, então o script roda num único slot do cluster.
var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call("EXISTS", key) == 1 then
		return 0
	end
end
for i, key in ipairs(KEYS) do
	redis.call("SET", key, ARGV[1], "PX", ARGV[2])
end
return 1
`)

var releaseScript = redis.NewScript(`
local released = 0
for i, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		redis.call("DEL", key)
		released = released + 1
	end
end
return released
`)

const (
	minLockBackoff = 10 * time.Millisecond
	maxLockBackoff = 250 * time.Millisecond
)

// Locker implements the correlation key locks across processes.
type Locker struct {
	logger *slog.Logger
	client redis.UniversalClient
	ttl    time.Duration
}

func NewLocker(logger *slog.Logger, redisClient *RedisClient, ttl time.Duration) *Locker {
	return &Locker{logger: logger, client: redisClient.Client(), ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, scope string, keys []string) (func(), error) {
	scoped := locks.ScopedKeys("", keys)
	redisKeys := make([]string, len(scoped))
	for i, k := range scoped {
		redisKeys[i] = fmt.Sprintf("axon:lock:{%s}%s", scope, k)
	}

	token := uuid.NewString()
	backoff := minLockBackoff

	for {
		acquired, err := acquireScript.Run(ctx, l.client, redisKeys, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("Locker.Lock - failed to run acquire script: %w", err)
		}
		if acquired == 1 {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > maxLockBackoff {
			backoff = maxLockBackoff
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		released, err := releaseScript.Run(releaseCtx, l.client, redisKeys, token).Int()
		if err != nil {
			l.logger.Error("failed to release correlation locks", "scope", scope, "error", err)
			return
		}
		if released != len(redisKeys) {
			l.logger.Warn("correlation locks expired before release", "scope", scope, "held", released, "expected", len(redisKeys))
		}
	}, nil
}
