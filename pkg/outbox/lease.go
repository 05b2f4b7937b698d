package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes processor runs across instances. Acquire returns false
// when another instance holds the claim.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLease claims the outbox with SET NX and a TTL, so a crashed holder
// frees the claim without operator intervention.
type RedisLease struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLease(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLease{
		rdb:   rdb,
		key:   key,
		ttl:   ttl,
		token: uuid.NewString(),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release drops only our own claim; a lease that expired and was re-acquired
// by another instance is left alone.
func (l *RedisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
