package job

import (
	"context"
	"log"
	"time"
)

// IntentSweeper 由支付服务实现
type IntentSweeper interface {
	SweepExpiredIntents(ctx context.Context, ttl time.Duration) int
}

// IntentExpiryJob 定时把超时未确认的支付意图标记为失败
type IntentExpiryJob struct {
	sweeper  IntentSweeper
	ttl      time.Duration
	stopCh   chan struct{}
	interval time.Duration
}

func NewIntentExpiryJob(sweeper IntentSweeper, ttl, interval time.Duration) *IntentExpiryJob {
	return &IntentExpiryJob{
		sweeper:  sweeper,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *IntentExpiryJob) Start(ctx context.Context) {
	log.Println("[IntentExpiryJob] 支付意图超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[IntentExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[IntentExpiryJob] 任务停止")
			return
		case <-ticker.C:
			if n := j.sweeper.SweepExpiredIntents(ctx, j.ttl); n > 0 {
				log.Printf("[IntentExpiryJob] 本次关闭 %d 个超时支付意图", n)
			}
		}
	}
}

func (j *IntentExpiryJob) Stop() {
	close(j.stopCh)
}
