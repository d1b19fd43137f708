package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"storefront/internal/config"
	"storefront/internal/infrastructure/lock"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/store"
	"storefront/pkg/idgen"
)

var (
	ErrInvalidAmount    = errors.New("支付金额必须大于0")
	ErrUnknownRail      = errors.New("未知的支付通道")
	ErrIntentNotFound   = errors.New("支付意图不存在")
	ErrIntentResolved   = errors.New("支付意图已完成，不能重复确认")
	ErrIntentInProgress = errors.New("支付意图正在处理中")
)

// DeclinedError 模拟拒付时返回给调用方的错误描述
const DeclinedError = "declined"

// Rail 一个支付通道的模拟参数
// FailureRate=0.1 表示 10% 的请求被拒付
type Rail struct {
	Name        string
	Latency     time.Duration
	FailureRate float64
}

// PaymentData 支付成功时返回给前端组件的数据
type PaymentData struct {
	Rail             string    `json:"rail"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	PaymentMethodRef string    `json:"payment_method_ref"`
	CreatedAt        time.Time `json:"created_at"`
}

// Result 支付结果
// 拒付是预期内的结果，不作为 error 返回
type Result struct {
	Success       bool         `json:"success"`
	TransactionID string       `json:"transaction_id,omitempty"`
	PaymentData   *PaymentData `json:"payment_data,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// Stats 流水统计
type Stats struct {
	TotalTransactions      int     `json:"total_transactions"`
	SuccessfulTransactions int     `json:"successful_transactions"`
	TotalAmount            int64   `json:"total_amount"`
	SuccessRate            float64 `json:"success_rate"`
}

// PaymentService 支付模拟器
//
// 【关键点】
// 1. 所有通道共用一份流水，流水只追加
// 2. 模拟延迟期间可以被 ctx 取消；一旦开始写流水，调用方取消也不影响写入
// 3. 写流水有超时，存储卡住时不会无限等待
type PaymentService struct {
	ledgerRepo     *repository.LedgerRepository
	rails          map[string]Rail
	homeCurrency   string
	intentLatency  time.Duration
	writeTimeout   time.Duration
	recordDeclines bool

	mu         sync.Mutex
	intents    map[string]*model.PaymentIntent
	secrets    map[string]string // client secret -> intent id
	confirming map[string]bool

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewPaymentService(st store.Store, locker lock.Locker, cfg *config.Config) *PaymentService {
	rails := make(map[string]Rail, len(cfg.Payment.Rails))
	for _, r := range cfg.Payment.Rails {
		rails[r.Name] = Rail{Name: r.Name, Latency: r.Latency, FailureRate: r.FailureRate}
	}

	writeTimeout := cfg.Store.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	return &PaymentService{
		ledgerRepo:     repository.NewLedgerRepository(st, locker),
		rails:          rails,
		homeCurrency:   normalizeCurrency(cfg.Payment.HomeCurrency, "eur"),
		intentLatency:  cfg.Payment.IntentLatency,
		writeTimeout:   writeTimeout,
		recordDeclines: cfg.Payment.RecordDeclines,
		intents:        make(map[string]*model.PaymentIntent),
		secrets:        make(map[string]string),
		confirming:     make(map[string]bool),
		random:         rand.Float64,
		sleep:          sleepContext,
		now:            time.Now,
	}
}

// Rails 已配置的通道名称
func (s *PaymentService) Rails() []string {
	names := make([]string, 0, len(s.rails))
	for name := range s.rails {
		names = append(names, name)
	}
	return names
}

// CreatePaymentIntent 创建支付意图
// amount 为主单位（如欧元），返回的意图金额为最小单位（×100）
// 每次调用都会生成新的意图，同一笔结账不要重复调用
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, amount float64, currency string) (*model.PaymentIntent, error) {
	minor := model.ToMinorUnits(amount)
	if minor <= 0 {
		return nil, ErrInvalidAmount
	}

	// 模拟网络往返
	if err := s.sleep(ctx, s.intentLatency); err != nil {
		return nil, err
	}

	id := idgen.GenerateIntentID()
	intent := &model.PaymentIntent{
		ID:           id,
		Amount:       minor,
		Currency:     normalizeCurrency(currency, s.homeCurrency),
		Status:       model.IntentStatusRequiresPaymentMethod,
		ClientSecret: idgen.GenerateClientSecret(id),
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	s.intents[id] = intent
	s.secrets[intent.ClientSecret] = id
	s.mu.Unlock()

	log.Printf("[PaymentService] 创建支付意图: id=%s, amount=%d, currency=%s", id, minor, intent.Currency)

	out := *intent
	return &out, nil
}

// GetPaymentIntent 查询支付意图
func (s *PaymentService) GetPaymentIntent(id string) (*model.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	out := *intent
	return &out, nil
}

// ConfirmPaymentIntent 用 client secret 确认支付意图，走 card 通道
func (s *PaymentService) ConfirmPaymentIntent(ctx context.Context, clientSecret, methodRef string) (*Result, error) {
	s.mu.Lock()
	id, ok := s.secrets[clientSecret]
	if !ok {
		s.mu.Unlock()
		return nil, ErrIntentNotFound
	}
	intent := s.intents[id]
	if intent.Resolved() {
		s.mu.Unlock()
		return nil, ErrIntentResolved
	}
	if s.confirming[id] {
		s.mu.Unlock()
		return nil, ErrIntentInProgress
	}
	s.confirming[id] = true
	amount, currency := intent.Amount, intent.Currency
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.confirming, id)
		s.mu.Unlock()
	}()

	result, err := s.process(ctx, model.RailCard, methodRef, amount, currency)
	if err != nil {
		return nil, err
	}

	target := model.IntentStatusFailed
	if result.Success {
		target = model.IntentStatusSucceeded
	}

	s.mu.Lock()
	// 确认期间可能已被超时任务关闭
	if model.CanTransitionTo(intent.Status, target) {
		intent.Status = target
		intent.TransactionID = result.TransactionID
	} else {
		log.Printf("[PaymentService] 支付意图状态不允许变更: id=%s, from=%s, to=%s", id, intent.Status, target)
	}
	s.mu.Unlock()

	return result, nil
}

// ProcessPayment 模拟一次支付
//
// 成功时写入一条 succeeded 流水；拒付时默认不写流水，
// 开启 record_declines 后会写入一条 failed 流水用于审计
func (s *PaymentService) ProcessPayment(ctx context.Context, rail, methodRef string, amount float64, currency string) (*Result, error) {
	minor := model.ToMinorUnits(amount)
	if minor <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.process(ctx, rail, methodRef, minor, normalizeCurrency(currency, s.homeCurrency))
}

func (s *PaymentService) process(ctx context.Context, railName, methodRef string, amount int64, currency string) (*Result, error) {
	rail, ok := s.rails[railName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRail, railName)
	}

	if err := s.sleep(ctx, rail.Latency); err != nil {
		return nil, err
	}

	succeeded := s.random() >= rail.FailureRate
	trans := &model.Transaction{
		ID:               idgen.GenerateTransactionNo(),
		Amount:           amount,
		Currency:         currency,
		PaymentMethodRef: methodRef,
		Status:           model.TransactionStatusSucceeded,
		Kind:             rail.Name,
		CreatedAt:        s.now(),
	}

	if !succeeded {
		log.Printf("[PaymentService] 支付被拒: rail=%s, amount=%d", rail.Name, amount)
		if s.recordDeclines {
			trans.Status = model.TransactionStatusFailed
			if err := s.appendLedger(ctx, trans); err != nil {
				return nil, err
			}
		}
		return &Result{Success: false, Error: DeclinedError}, nil
	}

	if err := s.appendLedger(ctx, trans); err != nil {
		return nil, err
	}

	log.Printf("[PaymentService] 支付成功: txn=%s, rail=%s, amount=%d, currency=%s", trans.ID, rail.Name, amount, currency)

	return &Result{
		Success:       true,
		TransactionID: trans.ID,
		PaymentData: &PaymentData{
			Rail:             rail.Name,
			Amount:           amount,
			Currency:         currency,
			PaymentMethodRef: methodRef,
			CreatedAt:        trans.CreatedAt,
		},
	}, nil
}

// appendLedger 写流水不跟随调用方取消，只受 writeTimeout 限制
func (s *PaymentService) appendLedger(ctx context.Context, trans *model.Transaction) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.ledgerRepo.Append(writeCtx, trans); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}
	return nil
}

// GetTransactionHistory 按插入顺序返回全部流水
func (s *PaymentService) GetTransactionHistory(ctx context.Context) ([]model.Transaction, error) {
	return s.ledgerRepo.List(ctx)
}

// GetPaymentStats 流水统计，空流水时成功率为 0
func (s *PaymentService) GetPaymentStats(ctx context.Context) (*Stats, error) {
	transactions, err := s.ledgerRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalTransactions: len(transactions)}
	for _, t := range transactions {
		stats.TotalAmount += t.Amount
		if t.Succeeded() {
			stats.SuccessfulTransactions++
		}
	}
	if stats.TotalTransactions > 0 {
		stats.SuccessRate = float64(stats.SuccessfulTransactions) / float64(stats.TotalTransactions) * 100
	}
	return stats, nil
}

// SweepExpiredIntents 把创建超过 ttl 仍未确认的意图标记为失败，返回标记数量
// 上一轮已经完成（成功或失败）的过期意图直接清理
func (s *PaymentService) SweepExpiredIntents(ctx context.Context, ttl time.Duration) int {
	deadline := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	closed := 0
	for id, intent := range s.intents {
		if ctx.Err() != nil {
			break
		}
		if s.confirming[id] || !intent.CreatedAt.Before(deadline) {
			continue
		}
		// 已完成的意图过期后不再保留
		if intent.Resolved() {
			delete(s.intents, id)
			delete(s.secrets, intent.ClientSecret)
			continue
		}
		if model.CanTransitionTo(intent.Status, model.IntentStatusFailed) {
			intent.Status = model.IntentStatusFailed
			closed++
		}
	}
	return closed
}

func normalizeCurrency(currency, fallback string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return fallback
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
