// Package cache 可选的共享缓存层。
// 用于 memoize workflow 读取和 list 查询；Redis 未启用或不可达时
// 降级为恒 miss 的空实现，只有性能差异，没有功能差异。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
)

// ErrCacheMiss 键不存在（或缓存被禁用）
var ErrCacheMiss = errors.New("cache miss")

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 缓存管理器。disabled=true 时所有读取 miss、所有写入 no-op。
type Manager struct {
	redis      *redis.Client
	defaultTTL time.Duration
	disabled   bool
	logger     *zap.Logger
	mu         sync.RWMutex
	closed     bool
}

// NewManager 创建缓存管理器并验证连通性
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return NewDisabled(logger), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:      client,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("cache manager initialized", zap.String("addr", cfg.Addr))
	return m, nil
}

// NewDisabled 创建降级空实现：恒 miss、写入 no-op
func NewDisabled(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		disabled: true,
		logger:   logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("cache disabled, falling back to direct store reads")
	return m
}

// Enabled 报告缓存是否真实可用
func (m *Manager) Enabled() bool { return !m.disabled }

// Get 获取缓存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return "", ErrCacheMiss
	}
	if m.closed {
		return "", fmt.Errorf("cache manager is closed")
	}

	val, err := m.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// Set 设置缓存值。ttl 为 0 时使用默认过期时间。
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return nil
	}
	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// GetJSON 获取 JSON 缓存值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON 设置 JSON 缓存值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled || len(keys) == 0 {
		return nil
	}
	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Increment 自增计数器并保证 TTL 只在首次设置
func (m *Manager) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return 0, nil
	}
	if m.closed {
		return 0, fmt.Errorf("cache manager is closed")
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}

	val, err := m.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache increment failed: %w", err)
	}
	if val == 1 && ttl > 0 {
		if err := m.redis.Expire(ctx, key, ttl).Err(); err != nil {
			m.logger.Warn("cache expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	return val, nil
}

// Ping 检查缓存连通性
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return nil
	}
	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存连接
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled || m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("closing cache manager")
	return m.redis.Close()
}
