package store

import (
	"context"
	"errors"
	"time"
)

// ============================================================================
// 本地持久化存储
// ============================================================================
//
// 只负责按 key 存取原始字节，不关心业务语义：
//   - 序列化由调用方负责
//   - 读到格式错误的值由调用方当作"不存在"处理并自行清理
//   - 不提供事务，需要读-改-写的集合（名册、流水）由调用方加锁
//
// ============================================================================

var ErrNotFound = errors.New("key 不存在")

// Store 持久化 KV 接口
type Store interface {
	// Get 不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove 删除不存在的 key 不算错误
	Remove(ctx context.Context, key string) error
}

// timeoutStore 给写操作加上超时，防止存储卡住时调用方无限等待
type timeoutStore struct {
	Store
	timeout time.Duration
}

// WithWriteTimeout 包装 Store，Set/Remove 超过 timeout 返回 context.DeadlineExceeded
func WithWriteTimeout(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return s
	}
	return &timeoutStore{Store: s, timeout: timeout}
}

func (s *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Set(ctx, key, value)
}

func (s *timeoutStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Remove(ctx, key)
}
