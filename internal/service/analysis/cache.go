package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const (
	cacheKeyPrefix  = "analysis:result:"
	defaultCacheTTL = 24 * time.Hour
)

// Cache stores final results by prior position and move.
type Cache interface {
	Get(ctx context.Context, priorFEN, move string) (*analysisdto.Result, bool, error)
	Put(ctx context.Context, priorFEN, move string, res *analysisdto.Result) error
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// CacheKey hashes the position/move pair so FEN text never leaks into keys.
func CacheKey(priorFEN, move string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(priorFEN) + "|" + strings.ToLower(strings.TrimSpace(move))))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, priorFEN, move string) (*analysisdto.Result, bool, error) {
	raw, err := c.rdb.Get(ctx, CacheKey(priorFEN, move)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var res analysisdto.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &res, true, nil
}

func (c *RedisCache) Put(ctx context.Context, priorFEN, move string, res *analysisdto.Result) error {
	if res == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, CacheKey(priorFEN, move), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
