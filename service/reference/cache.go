package reference

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache 解析结果缓存，未命中与读写故障都视为未命中
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Set(ctx context.Context, key string, res Result)
}

// MemoryCache 批次内缓存，参照表在批次运行期间只读
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Result
}

// NewMemoryCache 创建批次内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Result)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[key]
	return res, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, res Result) {
	c.mu.Lock()
	c.entries[key] = res
	c.mu.Unlock()
}

// Len 缓存条目数
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HitsOnly 包装跨批次共享缓存：只写入解析成功的结果，未解析结果只在批次内缓存
func HitsOnly(c Cache) Cache {
	if c == nil {
		return nil
	}
	return hitsOnly{c}
}

type hitsOnly struct{ Cache }

func (h hitsOnly) Set(ctx context.Context, key string, res Result) {
	if res.Found {
		h.Cache.Set(ctx, key, res)
	}
}

// RedisCache 跨批次、跨实例共享的二级缓存
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache 创建 Redis 二级缓存
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "catalog:ref:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("读取参照缓存失败", "error", err)
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func (c *RedisCache) Set(ctx context.Context, key string, res Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		slog.Debug("写入参照缓存失败", "error", err)
	}
}
