package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fulfillment/internal/pkg/logger"
)

// RedisInflightGuard serializes concurrent handling of the same order across
// consumer workers and instances with a SET NX marker. The TTL is a crash
// backstop: a worker that dies mid-saga releases the order when the marker
// expires, and the redelivered message resumes from the ledger.
type RedisInflightGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInflightGuard(client *redis.Client, ttl time.Duration) *RedisInflightGuard {
	return &RedisInflightGuard{client: client, ttl: ttl}
}

func inflightKey(orderNumber string) string {
	return fmt.Sprintf("fulfillment:inflight:{%s}", orderNumber)
}

func (g *RedisInflightGuard) Acquire(ctx context.Context, orderNumber string) (bool, error) {
	return g.client.SetNX(ctx, inflightKey(orderNumber), "1", g.ttl).Result()
}

func (g *RedisInflightGuard) Release(ctx context.Context, orderNumber string) {
	if err := g.client.Del(ctx, inflightKey(orderNumber)).Err(); err != nil {
		// The TTL reclaims the marker eventually; losing the delete only
		// delays redelivery of this order.
		logger.Ctx(ctx).Warn().Err(err).Str("order_number", orderNumber).Msg("failed to release in-flight marker")
	}
}
