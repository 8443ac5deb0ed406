package slots

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"zen.app/cloud/licensing"
)

const (
	DefaultKey = "zen:early_adopter:claimed"
	// DefaultHoldTTL bounds how long a reservation whose license was never
	// stored keeps its slot.
	DefaultHoldTTL = 2 * time.Minute
)

// reserveScript grants a slot while committed plus pending reservations stay
// below ARGV[1]. Returns 1 when the holder has a slot, 0 when full and -1
// when the committed counter is missing and must be seeded.
var reserveScript = redis.NewScript(`
local committed = redis.call('GET', KEYS[1])
if not committed then
	return -1
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
if redis.call('ZSCORE', KEYS[2], ARGV[2]) then
	return 1
end
if tonumber(committed) + redis.call('ZCARD', KEYS[2]) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
return 1
`)

// commitScript moves a holder from pending to committed. A missing counter is
// left missing; the next reservation seeds it from storage.
var commitScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCR', KEYS[1])
end
return 0
`)

// RedisReserver keeps the early adopter claimed count in one Redis key and
// the reservations still waiting for their insert in a sorted set scored by
// expiry, so the capacity check and the claim happen in one atomic step.
type RedisReserver struct {
	client  redis.UniversalClient
	key     string
	pending string
	ttl     time.Duration
	now     func() time.Time
}

func NewRedisReserver(client redis.UniversalClient, key string) *RedisReserver {
	if key == "" {
		key = DefaultKey
	}
	return &RedisReserver{
		client:  client,
		key:     key,
		pending: key + ":pending",
		ttl:     DefaultHoldTTL,
		now:     time.Now,
	}
}

// NewClientFromURL builds a client from a redis:// or rediss:// URL.
func NewClientFromURL(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Seed initializes the counter from the persisted count. An existing counter
// is left alone so restarts do not lose in-flight reservations.
func (r *RedisReserver) Seed(ctx context.Context, claimed int) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, claimed, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Sync overwrites the counter with the persisted count.
func (r *RedisReserver) Sync(ctx context.Context, claimed int) error {
	if err := r.client.Set(ctx, r.key, claimed, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Claimed returns the committed count. A missing counter reads as 0.
func (r *RedisReserver) Claimed(ctx context.Context) (int, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt claimed counter %q: %w", val, err)
	}
	return n, nil
}

// Pending returns the number of unexpired reservations.
func (r *RedisReserver) Pending(ctx context.Context) (int, error) {
	n, err := r.client.ZCount(ctx, r.pending, "("+strconv.FormatInt(r.now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}
	return int(n), nil
}

// Reserve returns licensing.ErrSlotCounterMissing when the counter has not
// been seeded.
func (r *RedisReserver) Reserve(ctx context.Context, holder string, capacity int) (bool, error) {
	now := r.now()
	res, err := reserveScript.Run(ctx, r.client, []string{r.key, r.pending},
		capacity, holder, now.UnixMilli(), now.Add(r.ttl).UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("redis reserve: %w", err)
	}
	if res < 0 {
		return false, licensing.ErrSlotCounterMissing
	}
	return res == 1, nil
}

func (r *RedisReserver) Commit(ctx context.Context, holder string) error {
	if err := commitScript.Run(ctx, r.client, []string{r.key, r.pending}, holder).Err(); err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

func (r *RedisReserver) Release(ctx context.Context, holder string) error {
	if err := r.client.ZRem(ctx, r.pending, holder).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (r *RedisReserver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
