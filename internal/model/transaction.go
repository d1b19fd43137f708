package model

import (
	"time"
)

// ============================================================================
// 交易状态 & 支付通道
// ============================================================================

const (
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusFailed    = "failed"
)

const (
	RailCard   = "card"
	RailWallet = "wallet"
)

// ============================================================================
// 支付流水实体
// ============================================================================

// Transaction 支付流水
//
// 【重要】流水设计原则：
// 1. 只追加，不修改，不删除
// 2. 顺序即插入顺序，没有额外的全局索引
// 3. 金额统一用最小货币单位（分）
type Transaction struct {
	ID               string    `json:"id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	PaymentMethodRef string    `json:"payment_method_ref"`
	Status           string    `json:"status"`
	Kind             string    `json:"kind"` // 产生这笔流水的支付通道
	CreatedAt        time.Time `json:"created_at"`
}

func (t Transaction) Succeeded() bool {
	return t.Status == TransactionStatusSucceeded
}
