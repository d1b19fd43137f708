package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要锁？】
//
// 名册和流水都是"读出整个数组 -> 追加一条 -> 整体写回"：
//   goroutine1: 读流水=[A] -> 追加B -> 写回[A,B]
//   goroutine2: 读流水=[A] -> 追加C -> 写回[A,C]   B 丢了！
//
// 加锁后同一个 key 同一时刻只有一个写者。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// unlockScript 检查 value 是否匹配，匹配则删除
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     redis.Cmdable
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】必须检查 value：
//
//	A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 调用 Unlock
//	不检查 value 的话 A 会把 B 的锁删掉
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// Locker：名册/流水写入的单写者约束
// ============================================================================

// Locker 按 key 互斥，release 必须调用且只调用一次
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker 基于 DistributedLock，多进程共享同一个 Redis 存储时使用
type RedisLocker struct {
	client        redis.Cmdable
	prefix        string
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client redis.Cmdable, prefix string, expiration, retryInterval time.Duration, maxRetries int) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		expiration:    expiration,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	// value 每次随机，保证只能释放自己持有的锁
	l := NewDistributedLock(r.client, r.prefix+"lock:"+key, uuid.NewString(), r.expiration)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 调用方的 ctx 可能已经取消，释放锁不能跟着失败
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}, nil
}
