// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
)

// RedisL3 is the optional persistent secondary cache tier (spec.md §4.5),
// backed by go-redis. A failed Redis round trip degrades to a cache miss
// rather than an error. Get performs no hash or fuzzy-block check of its
// own, and Cache does not call it (see L3).
type RedisL3 struct {
	client *redis.Client
	ttl    time.Duration
	log    logging.Logger
}

// NewRedisL3 builds an L3 tier over a Redis connection described by a
// redis:// URL. ttl bounds how long a stale snapshot is allowed to linger
// after the in-process cache has already evicted it.
func NewRedisL3(url string, ttl time.Duration) (*RedisL3, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("statecache: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisL3{
		client: redis.NewClient(opts),
		ttl:    ttl,
		log:    logging.Component("statecache.redisl3"),
	}, nil
}

func redisKey(id chainmodel.Identity) string {
	return fmt.Sprintf("dexgraph:state:%d:%s", id.ChainID, id.Address.Hex())
}

// Get returns the cached snapshot for id, or (zero, false) on a miss or any
// Redis/decode error.
func (r *RedisL3) Get(ctx context.Context, id chainmodel.Identity) (chainmodel.CachedState, bool) {
	raw, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("redis get failed", "pool", id.Address, "err", err)
		}
		return chainmodel.CachedState{}, false
	}
	var cs chainmodel.CachedState
	if err := json.Unmarshal(raw, &cs); err != nil {
		r.log.Warn("redis decode failed", "pool", id.Address, "err", err)
		return chainmodel.CachedState{}, false
	}
	return cs, true
}

// Put writes s to Redis with this tier's configured TTL. Errors are logged
// and swallowed; L3 write failures must never block the hot read path.
func (r *RedisL3) Put(ctx context.Context, id chainmodel.Identity, s chainmodel.CachedState) {
	raw, err := json.Marshal(s)
	if err != nil {
		r.log.Warn("redis encode failed", "pool", id.Address, "err", err)
		return
	}
	if err := r.client.Set(ctx, redisKey(id), raw, r.ttl).Err(); err != nil {
		r.log.Warn("redis put failed", "pool", id.Address, "err", err)
	}
}

// Close releases the underlying Redis connection pool.
func (r *RedisL3) Close() error {
	return r.client.Close()
}
