/*
 * @module service/distributed_lock/redis_lock
 * @description Redis分布式锁，多实例部署时保证同一时刻只有一个实例执行续跑轮次
 * @architecture 工具层 - 提供分布式锁能力
 * @stateFlow 获取锁 -> 执行续跑轮次 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现；只有持有者可以释放；未配置Redis时不使用
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/init.go, service/scheduler/resume.go
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "catalog_hub:lock:"

// 只有持有者可以删除锁
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client     *redis.Client
	instanceID string // 锁持有者标识
}

// NewRedisLock 基于已连接的客户端创建分布式锁
func NewRedisLock(client *redis.Client, instanceID string) *RedisLock {
	return &RedisLock{client: client, instanceID: instanceID}
}

// TryLock 尝试获取锁，key 不存在时才会设置成功
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if ok {
		slog.Debug("分布式锁: 成功获取锁", "key", key, "ttl", ttl, "instance", r.instanceID)
	}
	return ok, nil
}

// Unlock 释放锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	n, err := unlockScript.Run(ctx, r.client, []string{keyPrefix + key}, r.instanceID).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if n == 0 {
		slog.Warn("分布式锁: 锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}
