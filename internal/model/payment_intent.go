package model

import (
	"math"
	"time"
)

const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusFailed                = "failed"
)

var ValidIntentTransitions = map[string][]string{
	IntentStatusRequiresPaymentMethod: {IntentStatusSucceeded, IntentStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidIntentTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PaymentIntent 支付意图
// Amount 为最小货币单位，创建时由主单位 ×100 换算
type PaymentIntent struct {
	ID            string    `json:"id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	ClientSecret  string    `json:"client_secret"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (p *PaymentIntent) Resolved() bool {
	return p.Status != IntentStatusRequiresPaymentMethod
}

// MaxAmount 单笔金额上限（主单位），超过后换算结果没有意义
const MaxAmount = 1_000_000_000

// ToMinorUnits 主单位金额换算为最小单位，四舍五入避免 0.1+0.2 这类误差
// NaN、无穷大以及超过 MaxAmount 的金额返回 0，由调用方按非法金额处理
func ToMinorUnits(amount float64) int64 {
	if math.IsNaN(amount) || amount > MaxAmount || amount < -MaxAmount {
		return 0
	}
	return int64(math.Round(amount * 100))
}
