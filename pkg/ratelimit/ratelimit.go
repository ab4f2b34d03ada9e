package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Second
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Manager 按端点前缀分配限制器。
// 额度参考 GRVT 公开的 API 限频，留有余量。
type Manager struct {
	limiters map[string]Limiter
	fallback Limiter
	mu       sync.RWMutex
}

// NewManager 创建带默认额度的管理器
func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]Limiter),
		fallback: NewTokenBucket(100, 20),
	}
	// 交易端点
	m.limiters["create_order"] = NewTokenBucket(300, 30)
	m.limiters["cancel_order"] = NewTokenBucket(300, 30)
	m.limiters["open_orders"] = NewTokenBucket(100, 10)
	m.limiters["order"] = NewTokenBucket(100, 10)
	m.limiters["positions"] = NewTokenBucket(100, 10)
	m.limiters["transfer"] = NewTokenBucket(10, 1)
	// 行情端点
	m.limiters["book"] = NewTokenBucket(200, 20)
	m.limiters["instrument"] = NewTokenBucket(50, 5)
	m.limiters["all_instruments"] = NewTokenBucket(10, 1)
	return m
}

// limiterFor 按路径最后一段匹配限制器
func (m *Manager) limiterFor(endpoint string) Limiter {
	key := endpoint
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[key]; ok {
		return l
	}
	return m.fallback
}

// Wait 等待直到端点允许请求
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.limiterFor(endpoint).Wait(ctx)
}

// Allow 检查端点是否允许请求
func (m *Manager) Allow(endpoint string) bool {
	return m.limiterFor(endpoint).Allow()
}
