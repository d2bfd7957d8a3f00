package noncecache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndSetScript atomically checks and registers a nonce in one
// round-trip, in the style of the teacher's token-bucket Lua script
// (pkg/kernel/limiter_redis.go): SET key "1" NX PX ttl_ms, reporting
// whether the key already existed.
//
// KEYS[1] = nonce key
// ARGV[1] = ttl in milliseconds
var checkAndSetScript = redis.NewScript(`
local setok = redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1])
if setok then
    return 0
else
    return 1
end
`)

// RedisStore is a strong-consistency replay store backed by Redis SET NX,
// suitable for the "Durable-Object-style or SQL with atomic insert-or-ignore"
// strong-consistency backend described in spec §4.3.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. keyPrefix namespaces nonces
// (e.g. "peac:nonce:" or "peac:tap-replay:") so callers sharing one Redis
// instance for multiple stores don't collide.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (r *RedisStore) key(nonce string) string {
	return r.prefix + nonce
}

func (r *RedisStore) Has(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("noncecache: redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Add(ctx context.Context, nonce string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(nonce), "1", ttl).Err(); err != nil {
		return fmt.Errorf("noncecache: redis set: %w", err)
	}
	return nil
}

// CheckAndSet implements compareAndSwapStore via the atomic Lua script,
// giving the strong happens-before ordering spec §5 requires for a single
// Redis instance.
func (r *RedisStore) CheckAndSet(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	res, err := checkAndSetScript.Run(ctx, r.client, []string{r.key(nonce)}, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("noncecache: redis checkandset: %w", err)
	}
	return res == 1, nil
}

func (r *RedisStore) Cleanup(_ context.Context) error {
	// Redis TTLs self-expire; nothing to sweep.
	return nil
}

func (r *RedisStore) StrongConsistency() bool { return true }
