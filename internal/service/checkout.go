package service

import (
	"context"
	"errors"
	"sync"
)

type CheckoutStatus string

const (
	CheckoutIdle       CheckoutStatus = "idle"
	CheckoutProcessing CheckoutStatus = "processing"
	CheckoutSuccess    CheckoutStatus = "success"
	CheckoutError      CheckoutStatus = "error"
)

var ErrCheckoutBusy = errors.New("上一笔支付仍在处理中")

// Checkout 结账组件使用的状态机，一个组件对应一个支付通道
//
//	idle -> processing -> success | error -> processing ...
//
// 前端通过状态接口轮询 Status/LastResult
type Checkout struct {
	payments *PaymentService
	rail     string

	mu         sync.Mutex
	status     CheckoutStatus
	lastResult *Result
}

// NewCheckout 为指定通道创建结账组件
func (s *PaymentService) NewCheckout(rail string) (*Checkout, error) {
	if _, ok := s.rails[rail]; !ok {
		return nil, ErrUnknownRail
	}
	return &Checkout{payments: s, rail: rail, status: CheckoutIdle}, nil
}

func (c *Checkout) Rail() string {
	return c.rail
}

func (c *Checkout) Status() CheckoutStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastResult 最近一次支付结果，没有支付过返回 nil
func (c *Checkout) LastResult() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// Pay 发起支付，处理中再次调用返回 ErrCheckoutBusy
func (c *Checkout) Pay(ctx context.Context, methodRef string, amount float64) (*Result, error) {
	c.mu.Lock()
	if c.status == CheckoutProcessing {
		c.mu.Unlock()
		return nil, ErrCheckoutBusy
	}
	c.status = CheckoutProcessing
	c.mu.Unlock()

	result, err := c.payments.ProcessPayment(ctx, c.rail, methodRef, amount, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastResult = &Result{Success: false, Error: err.Error()}
		c.status = CheckoutError
		return nil, err
	}
	c.lastResult = result
	if result.Success {
		c.status = CheckoutSuccess
	} else {
		c.status = CheckoutError
	}
	return result, nil
}

// Reset 回到 idle，处理中调用无效
func (c *Checkout) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != CheckoutProcessing {
		c.lastResult = nil
		c.status = CheckoutIdle
	}
}
