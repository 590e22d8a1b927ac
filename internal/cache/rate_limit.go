package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitUnavailable 限流存储不可用
var ErrRateLimitUnavailable = errors.New("rate limit unavailable")

// RateLimiter 固定窗口计数限流
type RateLimiter interface {
	// Allow 计数一次；超限时返回 false 与剩余等待时间
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

// Enabled 规则是否生效
func (r RateLimitRule) Enabled() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

func (r RateLimitRule) key(raw string) string {
	raw = strings.TrimSpace(raw)
	if r.Prefix == "" {
		return raw
	}
	return fmt.Sprintf("%s:%s", r.Prefix, raw)
}

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// RedisRateLimiter 基于 Redis Lua 脚本的限流
type RedisRateLimiter struct {
	client *redis.Client
	rule   RateLimitRule
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(client *redis.Client, rule RateLimitRule) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, rule: rule}
}

// Allow 计数一次
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.client == nil || !l.rule.Enabled() {
		return true, 0, nil
	}
	result, err := rateLimitScript.Run(ctx, l.client, []string{l.rule.key(key)}, l.rule.WindowSeconds).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, ErrRateLimitUnavailable
	}
	count, ok := toInt64(values[0])
	if !ok {
		return false, 0, ErrRateLimitUnavailable
	}
	ttlSeconds, _ := toInt64(values[1])
	if count <= int64(l.rule.MaxRequests) {
		return true, 0, nil
	}
	return false, waitFor(ttlSeconds, l.rule.WindowSeconds), nil
}

// MemoryRateLimiter 进程内固定窗口限流（Redis 未启用或测试时使用）
type MemoryRateLimiter struct {
	mu      sync.Mutex
	rule    RateLimitRule
	windows map[string]memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count     int
	expiresAt time.Time
}

// NewMemoryRateLimiter 创建进程内限流器
func NewMemoryRateLimiter(rule RateLimitRule) *MemoryRateLimiter {
	return &MemoryRateLimiter{rule: rule, windows: make(map[string]memoryWindow), now: time.Now}
}

// WithClock 替换时钟
func (l *MemoryRateLimiter) WithClock(now func() time.Time) *MemoryRateLimiter {
	l.now = now
	return l
}

// Allow 计数一次
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	if l == nil || !l.rule.Enabled() {
		return true, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := l.rule.key(key)
	window, ok := l.windows[k]
	if !ok || !now.Before(window.expiresAt) {
		window = memoryWindow{expiresAt: now.Add(time.Duration(l.rule.WindowSeconds) * time.Second)}
	}
	window.count++
	l.windows[k] = window
	if window.count <= l.rule.MaxRequests {
		return true, 0, nil
	}
	return false, window.expiresAt.Sub(now), nil
}

func waitFor(ttlSeconds int64, windowSeconds int) time.Duration {
	wait := int(ttlSeconds)
	if wait < 1 {
		wait = windowSeconds
	}
	if wait < 1 {
		wait = 1
	}
	return time.Duration(wait) * time.Second
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
