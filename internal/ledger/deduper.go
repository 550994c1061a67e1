package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisCmd is the slice of the Redis client the deduper needs.
// *redis.Client satisfies it.
type redisCmd interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Deduper is a Redis SetNX fast path that cuts duplicate deliveries before
// they hit the durable store. Fail-open: when Redis is unavailable the event
// is allowed through and the store decides. A claim taken here is
// provisional until the handler's side effect succeeds; Release returns it
// so broker redelivery can retry a failed handler.
type Deduper struct {
	rdb    redisCmd
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(consumerID, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", consumerID, eventID)
}

// AcquireOnce returns true the first time it sees (consumerID, eventID)
// within the TTL window, false for duplicates.
func (d *Deduper) AcquireOnce(ctx context.Context, consumerID, eventID string) bool {
	key := dedupKey(consumerID, eventID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("consumer_id", consumerID),
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("consumer_id", consumerID),
			zap.String("event_id", eventID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the fast-path claim for (consumerID, eventID). Called when
// the handler fails after the claim was taken: the durable store was never
// marked, and the claim must not outlive the failure or redelivery would be
// swallowed for the rest of the TTL. Best-effort: on Redis error the claim
// expires with its TTL and the duplicate window is logged.
func (d *Deduper) Release(ctx context.Context, consumerID, eventID string) {
	key := dedupKey(consumerID, eventID)
	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup claim, retries blocked until TTL",
			zap.String("consumer_id", consumerID),
			zap.String("event_id", eventID),
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
