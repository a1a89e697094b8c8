package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

const (
	releaseScript = `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `
	refreshScript = `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("PEXPIRE", KEYS[1], ARGV[2])
        else
            return 0
        end
    `
)

// RedisLocker serializes work on an auction across instances. Ownership is a
// random token so only the holder can release or extend the key.
type RedisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	log          logger.Logger
}

var _ domain.AuctionLocker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisLocker {
	return &RedisLocker{
		client:       client,
		ttl:          ttl,
		pollInterval: 10 * time.Millisecond,
		log:          log,
	}
}

func lockKey(auctionID string) string {
	return fmt.Sprintf("auction_lock:%s", auctionID)
}

func (r *RedisLocker) Lock(ctx context.Context, auctionID string) (func(), error) {
	key := lockKey(auctionID)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}

	stop := make(chan struct{})
	go r.maintain(key, token, stop)

	return func() {
		close(stop)
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			r.log.Warn("Failed to release auction lock", "key", key, "error", err)
		}
	}, nil
}

// maintain extends the TTL while the holder is still working.
func (r *RedisLocker) maintain(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			result, err := r.client.Eval(ctx, refreshScript, []string{key},
				token, r.ttl.Milliseconds()).Int64()
			cancel()

			if err != nil || result == 0 {
				r.log.Warn("Lost auction lock", "key", key, "error", err)
				return
			}
		}
	}
}
