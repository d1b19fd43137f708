package job

import (
	"context"
	"log"
	"time"

	"storefront/internal/model"
	"storefront/internal/notify"
)

// NotificationSender 异步投递通知
//
// 注册接口只负责入队，不等待投递结果：
//   - 队列满时直接丢弃并打日志，保证注册不被通知通道拖慢
//   - 投递失败按 retryInterval 重试，超过 maxRetry 次放弃
type NotificationSender struct {
	notifier      notify.Notifier
	queue         chan *model.Notification
	stopCh        chan struct{}
	maxRetry      int
	retryInterval time.Duration
}

func NewNotificationSender(notifier notify.Notifier, queueSize, maxRetry int) *NotificationSender {
	if queueSize <= 0 {
		queueSize = 1
	}
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &NotificationSender{
		notifier:      notifier,
		queue:         make(chan *model.Notification, queueSize),
		stopCh:        make(chan struct{}),
		maxRetry:      maxRetry,
		retryInterval: 500 * time.Millisecond,
	}
}

// NotifyVerificationPending 通知用户等待验证，不阻塞
func (s *NotificationSender) NotifyVerificationPending(email string) {
	s.Enqueue(&model.Notification{
		Key:       email,
		Kind:      model.NotificationKindVerificationPending,
		Email:     email,
		CreatedAt: time.Now(),
	})
}

// Enqueue 入队，队列满返回 false
func (s *NotificationSender) Enqueue(n *model.Notification) bool {
	select {
	case s.queue <- n:
		return true
	default:
		log.Printf("[NotificationSender] 队列已满，丢弃通知: kind=%s, email=%s", n.Kind, n.Email)
		return false
	}
}

func (s *NotificationSender) Start(ctx context.Context) {
	log.Println("[NotificationSender] 通知发送任务启动")

	for {
		select {
		case <-ctx.Done():
			log.Println("[NotificationSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[NotificationSender] 任务停止")
			return
		case n := <-s.queue:
			s.send(ctx, n)
		}
	}
}

func (s *NotificationSender) Stop() {
	close(s.stopCh)
}

func (s *NotificationSender) send(ctx context.Context, n *model.Notification) {
	for {
		err := s.notifier.Send(ctx, n)
		if err == nil {
			log.Printf("[NotificationSender] 通知发送成功: kind=%s, email=%s", n.Kind, n.Email)
			return
		}

		n.RetryCount++
		log.Printf("[NotificationSender] 通知发送失败: email=%s, retry=%d, err=%v", n.Email, n.RetryCount, err)
		if n.RetryCount >= s.maxRetry {
			log.Printf("[NotificationSender] 超过最大重试次数，放弃: email=%s", n.Email)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(s.retryInterval):
		}
	}
}
