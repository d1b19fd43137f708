package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内按 key 互斥
// 用带缓冲的 channel 代替 sync.Mutex，这样等锁时可以响应 ctx 取消
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
