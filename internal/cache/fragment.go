// Package cache keeps rendered page fragments in redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IndexKey holds every cached page of the index view as one hash.
const IndexKey = "fragment:index_page"

// Fragment caches rendered variants of a single fragment under one redis hash.
// The TTL is set when the hash is first created, so all variants expire
// together; Invalidate drops them at once.
type Fragment struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

func NewFragment(client *redis.Client, key string, ttl time.Duration) *Fragment {
	return &Fragment{redis: client, key: key, ttl: ttl}
}

func (f *Fragment) enabled() bool {
	return f != nil && f.redis != nil
}

// Get returns the cached variant. Redis errors count as a miss.
func (f *Fragment) Get(ctx context.Context, variant string) ([]byte, bool) {
	if !f.enabled() {
		return nil, false
	}
	b, err := f.redis.HGet(ctx, f.key, variant).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set stores a variant. The write and the TTL go out in one transaction so a
// hash recreated after Invalidate always expires.
func (f *Fragment) Set(ctx context.Context, variant string, body []byte) error {
	if !f.enabled() {
		return nil
	}
	_, err := f.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, f.key, variant, body)
		if f.ttl > 0 {
			pipe.ExpireNX(ctx, f.key, f.ttl)
		}
		return nil
	})
	return err
}

func (f *Fragment) Invalidate(ctx context.Context) error {
	if !f.enabled() {
		return nil
	}
	err := f.redis.Del(ctx, f.key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
