package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// RedisStore 以 Redis 作为持久化后端，多个进程可以共享同一份数据
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	// 不过期
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
