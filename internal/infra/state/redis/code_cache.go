package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCodeTTL 缓存默认的生存时间
const DefaultCodeTTL = 300 * time.Second

// RedisCodeCache 是 CodeCache 接口的 Redis 实现
type RedisCodeCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	codec     Codec
}

// NewRedisCodeCache 创建 RedisCodeCache 实例
func NewRedisCodeCache(client *redis.Client, keyPrefix string, ttl time.Duration, compress bool) *RedisCodeCache {
	if client == nil {
		panic("redis client cannot be nil for RedisCodeCache")
	}
	if keyPrefix == "" {
		keyPrefix = "ce:" // 默认前缀 "ce:" (collaborative editor)
	}
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &RedisCodeCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		codec:     Codec{Enabled: compress},
	}
}

// --- Key Generation Helpers ---
func (r *RedisCodeCache) roomCodeKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:code", r.keyPrefix, roomID)
}

func (r *RedisCodeCache) roomCodePattern() string {
	return r.keyPrefix + "room:*:code"
}

// roomIDFromKey 从 "<prefix>room:<id>:code" 中取出房间 ID
func (r *RedisCodeCache) roomIDFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, r.keyPrefix+"room:")
	if rest == key || !strings.HasSuffix(rest, ":code") {
		return "", false
	}
	id := strings.TrimSuffix(rest, ":code")
	return id, id != ""
}

// Get 读取并刷新 TTL
func (r *RedisCodeCache) Get(ctx context.Context, roomID string) (string, bool, error) {
	key := r.roomCodeKey(roomID)
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("redis: failed to get code for room %s from %s: %w", roomID, key, err)
	}
	return r.decodeResult(getCmd, roomID, key)
}

// Peek 读取但不刷新 TTL
func (r *RedisCodeCache) Peek(ctx context.Context, roomID string) (string, bool, error) {
	key := r.roomCodeKey(roomID)
	return r.decodeResult(r.client.Get(ctx, key), roomID, key)
}

func (r *RedisCodeCache) decodeResult(cmd *redis.StringCmd, roomID, key string) (string, bool, error) {
	stored, err := cmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis: failed to read code for room %s from %s: %w", roomID, key, err)
	}
	return r.codec.Decode(stored), true, nil
}

// Set 写入代码并重置 TTL
func (r *RedisCodeCache) Set(ctx context.Context, roomID string, code string) error {
	key := r.roomCodeKey(roomID)
	encoded, err := r.codec.Encode(code)
	if err != nil {
		return fmt.Errorf("redis: failed to encode code for room %s: %w", roomID, err)
	}
	if err := r.client.Set(ctx, key, encoded, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set code for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// Delete 删除房间缓存
func (r *RedisCodeCache) Delete(ctx context.Context, roomID string) error {
	key := r.roomCodeKey(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete code for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// ListRoomIDs 使用 SCAN 枚举缓存中的房间，避免 KEYS 阻塞 Redis
func (r *RedisCodeCache) ListRoomIDs(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
		seen   = make(map[string]struct{})
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.roomCodePattern(), 200).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: failed to scan room code keys: %w", err)
		}
		for _, key := range keys {
			id, ok := r.roomIDFromKey(key)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}
