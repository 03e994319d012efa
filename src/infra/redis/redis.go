package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client redis.UniversalClient
}

// NewRedisClient aceita um endereço (standalone) ou uma lista separada por vírgula (cluster).
func NewRedisClient(addrs string, poolSize int) *RedisClient {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: strings.Split(addrs, ","),

		// Pool settings para alta concorrência
		PoolSize:     poolSize,
		MinIdleConns: 10,

		// Cluster específico
		MaxRedirects: 3,

		// Locks são operações curtas
		DialTimeout:  5 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return &RedisClient{client: client}
}

func (rc *RedisClient) Client() redis.UniversalClient {
	return rc.client
}

// Health check para o cluster
func (rc *RedisClient) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}
