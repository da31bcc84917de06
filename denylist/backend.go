package denylist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"
)

// ErrCacheUnavailable wraps every backend failure.
var ErrCacheUnavailable = errors.New("denylist cache unavailable")

// Backend is the key-value surface the denylist needs.
type Backend interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// GetMulti returns one value per key, "" for absent keys.
	GetMulti(ctx context.Context, keys ...string) ([]string, error)
	Ping(ctx context.Context) error
}

// RedisBackend is a Backend over go-redis.
type RedisBackend struct {
	rdb redis.UniversalClient
}

// NewRedisBackend wraps rdb.
func NewRedisBackend(rdb redis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// GetMulti pipelines one GET per key. The keys hash to different cluster
// slots, so MGET is not an option.
func (b *RedisBackend) GetMulti(ctx context.Context, keys ...string) ([]string, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	out := make([]string, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		switch {
		case err == nil:
			out[i] = v
		case errors.Is(err, redis.Nil):
		default:
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return out, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// RueidisBackend is a Backend over rueidis with server-assisted client-side
// caching. Reads may be served from the local tracking cache for up to
// cacheTTL, so a revocation written by another instance becomes visible
// within one cacheTTL at worst; Redis invalidation messages usually make it
// immediate.
type RueidisBackend struct {
	client   rueidis.Client
	cacheTTL time.Duration
}

// NewRueidisBackend wraps client. A zero cacheTTL disables client-side
// caching for reads.
func NewRueidisBackend(client rueidis.Client, cacheTTL time.Duration) *RueidisBackend {
	return &RueidisBackend{client: client, cacheTTL: cacheTTL}
}

func (b *RueidisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	cmd := b.client.B().Psetex().Key(key).Milliseconds(ms).Value(value).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (b *RueidisBackend) GetMulti(ctx context.Context, keys ...string) ([]string, error) {
	out := make([]string, len(keys))

	var results []rueidis.RedisResult
	if b.cacheTTL > 0 {
		cmds := make([]rueidis.CacheableTTL, len(keys))
		for i, key := range keys {
			cmds[i] = rueidis.CT(b.client.B().Get().Key(key).Cache(), b.cacheTTL)
		}
		results = b.client.DoMultiCache(ctx, cmds...)
	} else {
		cmds := make(rueidis.Commands, len(keys))
		for i, key := range keys {
			cmds[i] = b.client.B().Get().Key(key).Build()
		}
		results = b.client.DoMulti(ctx, cmds...)
	}

	for i, res := range results {
		v, err := res.ToString()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		out[i] = v
	}
	return out, nil
}

func (b *RueidisBackend) Ping(ctx context.Context) error {
	if err := b.client.Do(ctx, b.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
