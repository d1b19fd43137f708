package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"storefront/internal/infrastructure/mq"
	"storefront/internal/model"

	"github.com/IBM/sarama"
)

// Notifier 外部通知通道，只负责投递一条消息
type Notifier interface {
	Send(ctx context.Context, n *model.Notification) error
}

// KafkaNotifier 把通知写到 Kafka，由下游邮件服务消费
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (k *KafkaNotifier) Send(ctx context.Context, n *model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}
	return mq.SendMessage(k.producer, k.topic, n.Key, payload)
}

func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}

// LogNotifier 没有配置 Kafka 时使用，只打日志
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, n *model.Notification) error {
	log.Printf("[LogNotifier] 通知: kind=%s, email=%s", n.Kind, n.Email)
	return nil
}
