package pool

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// errorKeyPrefix mirrors session.SessionPrefix's key-namespacing
// convention: a sorted-set per handle, scored by error timestamp, so
// several client processes can share one pool's error/health view.
const errorKeyPrefix = "wsclient:pool:errors:"

// RedisErrorStore is the optional distributed ErrorStore from spec §4.9's
// extensibility notes — several processes routing against the same
// logical pool (e.g. a fleet of workers sharing venue connections) share
// one error table instead of each keeping an isolated in-memory one. It is
// grounded on internal/session/store.go's NewStore(client)-plus-TTL-keys
// shape.
type RedisErrorStore struct {
	client *redis.Client
	decay  time.Duration
}

// NewRedisErrorStore builds a RedisErrorStore. decay sets each key's TTL to
// twice its value; the trim window is the decay passed to
// RecentErrorCount.
func NewRedisErrorStore(client *redis.Client, decay time.Duration) *RedisErrorStore {
	if decay <= 0 {
		decay = 30 * time.Second
	}
	return &RedisErrorStore{client: client, decay: decay}
}

func (s *RedisErrorStore) key(h Handle) string {
	return errorKeyPrefix + string(h)
}

// RecordError adds a timestamped member to h's sorted set. Errors are
// logged (never propagated): per spec §4.9 this is a best-effort
// extensibility hook, not load-bearing for correctness of the in-process
// default path.
func (s *RedisErrorStore) RecordError(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	now := float64(time.Now().UnixNano())
	key := s.key(h)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: now, Member: now})
	pipe.Expire(ctx, key, s.decay*2)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("pool: redis record_error %s: %v", h, err)
	}
}

// ClearErrors deletes h's error set entirely.
func (s *RedisErrorStore) ClearErrors(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.client.Del(ctx, s.key(h)).Err(); err != nil {
		log.Printf("pool: redis clear_errors %s: %v", h, err)
	}
}

// RecentErrorCount prunes entries older than decay and returns the
// remaining count.
func (s *RedisErrorStore) RecentErrorCount(h Handle, decay time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	key := s.key(h)
	cutoff := fmt.Sprintf("%d", time.Now().Add(-decay).UnixNano())
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		log.Printf("pool: redis prune %s: %v", h, err)
		return 0
	}
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		log.Printf("pool: redis count %s: %v", h, err)
		return 0
	}
	return int(count)
}
