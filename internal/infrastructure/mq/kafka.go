package mq

import (
	"errors"
	"fmt"
	"log"

	"storefront/internal/config"

	"github.com/IBM/sarama"
)

var ErrNoBrokers = errors.New("未配置 Kafka brokers")

// ProducerConfig 生产者配置，测试里 mocks 生产者也用这份
func ProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	return kafkaConfig
}

// NewProducer 创建 Kafka 同步生产者
func NewProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	log.Println("[Kafka] 生产者创建成功")
	return producer, nil
}

// SendMessage 发送消息到 Kafka
func SendMessage(producer sarama.SyncProducer, topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	_, _, err := producer.SendMessage(msg)
	return err
}
