package model

import (
	"time"
)

const (
	NotificationKindVerificationPending = "VERIFICATION_PENDING"
)

// Notification 待发送的通知消息
// 发送失败会重试，超过最大次数后丢弃（不保证送达）
type Notification struct {
	Key        string    `json:"key"`
	Kind       string    `json:"kind"`
	Email      string    `json:"email"`
	RetryCount int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
