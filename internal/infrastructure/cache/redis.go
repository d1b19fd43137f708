package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"storefront/internal/config"

	"github.com/go-redis/redis/v8"
)

// InitRedis 初始化 Redis 连接
// store.driver=redis 时作为持久化后端和分布式锁共用
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Println("[Redis] 连接成功")
	return client, nil
}
