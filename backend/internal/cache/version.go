package cache

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	BaseTTL          = 10 * time.Minute // 基础过期时间
	Jitter           = 2 * time.Minute  // 随机抖动范围
	NullTTL          = 1 * time.Minute
	EmptyCacheMarker = -1 // 空值标记
	// DefaultVersion seeds localVersion for documents that were never persisted.
	DefaultVersion int64 = 1
)

// VersionSource is the durable owner of document versions.
type VersionSource interface {
	CurrentVersion(ctx context.Context, documentID string) (version int64, found bool, err error)
}

// VersionCache is a read-through cache of a document's currentVersion.
type VersionCache struct {
	rdb    redis.UniversalClient
	sf     singleflight.Group
	source VersionSource
}

func NewVersionCache(rdb redis.UniversalClient, source VersionSource) *VersionCache {
	return &VersionCache{rdb: rdb, source: source}
}

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

func (c *VersionCache) readCache(ctx context.Context, key string) (int64, bool, error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// CurrentVersion returns the persisted version, or DefaultVersion for an
// unknown document. Concurrent misses for one document share a single
// database lookup.
func (c *VersionCache) CurrentVersion(ctx context.Context, documentID string) (int64, error) {
	key := versionKey(documentID)
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		v, hit, err := c.readCache(ctx, key)
		if err != nil {
			return int64(0), err
		}
		if hit {
			if v == EmptyCacheMarker {
				return DefaultVersion, nil
			}
			return v, nil
		}

		// 回源 (Redis Miss)
		version, found, err := c.source.CurrentVersion(ctx, documentID)
		if err != nil {
			return int64(0), err
		}
		// 空值缓存，防止缓存穿透
		if !found {
			_ = c.rdb.Set(ctx, key, EmptyCacheMarker, NullTTL).Err()
			return DefaultVersion, nil
		}
		_ = c.rdb.Set(ctx, key, version, getRandomTTL()).Err()
		return version, nil
	})
	if err != nil {
		return 0, err
	}
	if v, ok := val.(int64); ok {
		return v, nil
	}
	return 0, errors.New("internal type error")
}

// Raise stores version unless the cached value is already higher.
func (c *VersionCache) Raise(ctx context.Context, documentID string, version int64) error {
	const raiseScript = `
	local cur = redis.call("GET", KEYS[1])
	if cur and tonumber(cur) >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
	return 1
	`
	ttl := int64(getRandomTTL() / time.Second)
	return c.rdb.Eval(ctx, raiseScript, []string{versionKey(documentID)}, version, ttl).Err()
}

func (c *VersionCache) Invalidate(ctx context.Context, documentID string) error {
	return c.rdb.Del(ctx, versionKey(documentID)).Err()
}
