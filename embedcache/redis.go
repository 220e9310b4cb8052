package embedcache

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/spawncache/vector"
)

// DefaultKeyPrefix namespaces embedding keys in a shared Redis.
const DefaultKeyPrefix = "spawncache:emb:"

// L2 is a Redis-backed vector cache. All operations fail soft: if Redis is
// unavailable, methods return a miss (or silently discard the write) instead
// of surfacing the error to the caller.
type L2 struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewL2 creates a new Redis-backed L2 cache.
func NewL2(addr, password string, db int) *L2 {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewL2FromClient(rdb, DefaultKeyPrefix)
}

// NewL2FromClient wraps an existing client. Keys are stored as prefix+key.
func NewL2FromClient(rdb redis.UniversalClient, prefix string) *L2 {
	return &L2{rdb: rdb, prefix: prefix}
}

// Get retrieves a vector by key. Returns (nil, false, nil) on a miss, when
// Redis is unreachable or when the stored bytes are not a vector.
func (l *L2) Get(ctx context.Context, key string) (vector.Vector, bool, error) {
	raw, err := l.rdb.Get(ctx, l.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		// Fail soft: treat connection errors as a miss.
		return nil, false, nil
	}
	v, ok := decode(raw)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set stores v under key with the given TTL. A zero TTL means the entry has
// no automatic expiration. Errors are silently discarded (fail soft).
func (l *L2) Set(ctx context.Context, key string, v vector.Vector, ttl time.Duration) error {
	_ = l.rdb.Set(ctx, l.prefix+key, encode(v), ttl).Err()
	return nil
}

// GetOrSet checks Redis and falls back to loader. Concurrent loads are not
// de-duplicated here; wrap the L2 in a [Tiered] for that.
func (l *L2) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (vector.Vector, error)) (vector.Vector, error) {
	if v, ok, _ := l.Get(ctx, key); ok {
		return v, nil
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	_ = l.Set(ctx, key, v, ttl)
	return v, nil
}

// Ping checks the Redis connection.
func (l *L2) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (l *L2) Close() error {
	return l.rdb.Close()
}

// encode packs v as little-endian float32s.
func encode(v vector.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(raw []byte) (vector.Vector, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	v := make(vector.Vector, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, true
}
