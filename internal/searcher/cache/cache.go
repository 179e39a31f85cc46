// Package cache keeps search results in two tiers: an in-process LRU and a
// shared Redis tier behind a circuit breaker. Concurrent misses for the same
// request are collapsed into one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nectic/terrier-core/internal/searcher/executor"
	"github.com/nectic/terrier-core/pkg/config"
	"github.com/nectic/terrier-core/pkg/metrics"
	"github.com/nectic/terrier-core/pkg/resilience"
)

const keyPrefix = "search:"

// Remote is the shared tier. *redis.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	remote  Remote
	local   *lru.Cache[string, *executor.SearchResult]
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache. remote may be nil for a local-only cache; a
// non-positive cfg.LocalSize disables the local tier.
func New(remote Remote, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		remote:  remote,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	if cfg.LocalSize > 0 {
		c.local, _ = lru.New[string, *executor.SearchResult](cfg.LocalSize)
	}
	c.breaker = resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	return c
}

// Get looks the request up in the local tier, then the remote one. A remote
// hit is copied into the local tier.
func (c *QueryCache) Get(ctx context.Context, req executor.Request) (*executor.SearchResult, bool) {
	key := c.buildKey(req)
	if c.local != nil {
		if result, ok := c.local.Get(key); ok {
			c.hit("local")
			return withQueryID(result, req.QueryID), true
		}
	}
	if c.remote == nil {
		c.miss()
		return nil, false
	}

	var data []byte
	var found bool
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, found, err = c.remote.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if c.local != nil {
		c.local.Add(key, &result)
	}
	c.hit("remote")
	return withQueryID(&result, req.QueryID), true
}

// Set stores result in both tiers.
func (c *QueryCache) Set(ctx context.Context, req executor.Request, result *executor.SearchResult) {
	key := c.buildKey(req)
	if c.local != nil {
		c.local.Add(key, result)
	}
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.remote.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or computes, stores and
// returns it. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	computeFn func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	key := c.buildKey(req)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return withQueryID(val.(*executor.SearchResult), req.QueryID), false, nil
}

// Invalidate drops every cached result from both tiers.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	if c.local != nil {
		c.local.Purge()
	}
	if c.remote == nil {
		return nil
	}
	var deleted int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = c.remote.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the remote tier's circuit state.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *QueryCache) hit(tier string) {
	c.hits.Add(1)
	c.metrics.CacheHit(tier)
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

func (c *QueryCache) buildKey(req executor.Request) string {
	hash := sha256.Sum256([]byte(req.Key()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// withQueryID returns result under the caller's query id without touching
// the cached copy.
func withQueryID(result *executor.SearchResult, qid string) *executor.SearchResult {
	if qid == "" || result.QueryID == qid {
		return result
	}
	out := *result
	out.QueryID = qid
	return &out
}
