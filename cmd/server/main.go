package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/infrastructure/cache"
	"storefront/internal/infrastructure/database"
	"storefront/internal/infrastructure/lock"
	"storefront/internal/infrastructure/mq"
	"storefront/internal/job"
	"storefront/internal/notify"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 缺少 publishable key 时以降级模式运行，支付接口返回不可用
	if err := cfg.Validate(); err != nil {
		log.Printf("配置不完整，支付功能降级: %v", err)
	}

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化存储
	st, locker, closeStore := initStore(cfg)
	defer closeStore()

	// 初始化通知通道
	notifier, closeNotifier := initNotifier(cfg)
	defer closeNotifier()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	sender := job.NewNotificationSender(notifier, cfg.Business.NotifyQueueSize, cfg.Business.MaxRetryCount)
	go sender.Start(ctx)

	identity := service.NewIdentityService(st, locker, cfg, sender)
	payments := service.NewPaymentService(st, locker, cfg)

	intentTTL := time.Duration(cfg.Payment.IntentTTLMinutes) * time.Minute
	intentExpiryJob := job.NewIntentExpiryJob(payments, intentTTL, time.Minute)
	go intentExpiryJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(identity, payments, cfg))

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}

// initStore 按 store.driver 选择存储
// redis 驱动下用分布式锁，保证多实例共用一份数据时也只有一个写者
func initStore(cfg *config.Config) (store.Store, lock.Locker, func()) {
	var (
		st     store.Store
		locker lock.Locker = lock.NewLocalLocker()
		closer             = func() {}
	)

	switch cfg.Store.Driver {
	case "redis":
		rdb, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("初始化 Redis 失败: %v", err)
		}
		st = store.NewRedisStore(rdb, cfg.Store.KeyPrefix)
		locker = lock.NewRedisLocker(rdb, cfg.Store.KeyPrefix,
			time.Duration(cfg.Business.LockExpireSeconds)*time.Second,
			time.Duration(cfg.Business.LockRetryMillis)*time.Millisecond,
			cfg.Business.LockMaxRetries)
		closer = func() {
			if err := rdb.Close(); err != nil {
				log.Printf("关闭 Redis 连接失败: %v", err)
			}
		}
	case "mysql":
		db, err := database.InitMySQL(&cfg.MySQL)
		if err != nil {
			log.Fatalf("初始化 MySQL 失败: %v", err)
		}
		st = store.NewMySQLStore(db)
		closer = func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	default:
		log.Println("使用内存存储，进程退出后数据丢失")
		st = store.NewMemoryStore()
	}

	return store.WithWriteTimeout(st, cfg.Store.WriteTimeout), locker, closer
}

// initNotifier 配置了 Kafka 时投递到 Kafka，否则只打日志
func initNotifier(cfg *config.Config) (notify.Notifier, func()) {
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		log.Printf("Kafka 不可用，验证通知只写日志: %v", err)
		return notify.LogNotifier{}, func() {}
	}

	notifier := notify.NewKafkaNotifier(producer, cfg.Kafka.Topic.Verification)
	return notifier, func() {
		if err := notifier.Close(); err != nil {
			log.Printf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}
