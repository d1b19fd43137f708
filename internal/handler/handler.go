package handler

import (
	"errors"
	"sync"

	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/service"
	"storefront/pkg/card"
	"storefront/pkg/response"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxContexts 内存中最多保留的浏览上下文数量，超过后淘汰最久未使用的
const DefaultMaxContexts = 4096

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	identity *service.IdentityService
	payments *service.PaymentService

	publishableKey string
	homeCurrency   string
	// 配置缺失时支付相关接口返回降级状态，而不是让进程退出
	configErr error

	mu       sync.Mutex
	contexts *lru.Cache[string, *browsingContext]
}

// browsingContext 一个浏览上下文（X-Session-ID）的会话和结账组件
type browsingContext struct {
	session *service.Session
	restore sync.Once

	mu        sync.Mutex
	checkouts map[string]*service.Checkout
}

func newBrowsingContext(id string) *browsingContext {
	return &browsingContext{
		session:   service.NewSession(id),
		checkouts: make(map[string]*service.Checkout),
	}
}

// NewHandler 创建处理器实例
func NewHandler(identity *service.IdentityService, payments *service.PaymentService, cfg *config.Config) *Handler {
	return newHandler(identity, payments, cfg, DefaultMaxContexts)
}

func newHandler(identity *service.IdentityService, payments *service.PaymentService, cfg *config.Config, maxContexts int) *Handler {
	contexts, err := lru.New[string, *browsingContext](maxContexts)
	if err != nil {
		// 只有 size<=0 会出错
		panic(err)
	}
	return &Handler{
		identity:       identity,
		payments:       payments,
		publishableKey: cfg.Payment.PublishableKey,
		homeCurrency:   cfg.Payment.HomeCurrency,
		configErr:      cfg.Validate(),
		contexts:       contexts,
	}
}

// browsingContext 取出当前请求的浏览上下文
//
// 【关键点】
// 1. 服务端刚生成的 ID 不缓存：存储里不可能有它的会话，登录后客户端带着 ID 回来再缓存
// 2. 首次出现的上下文在 restore 里从存储恢复会话，同一上下文的并发请求等恢复完成后再继续
// 3. 被淘汰的上下文下次出现时重新从存储恢复，已登录状态不会丢
func (h *Handler) browsingContext(c *gin.Context) *browsingContext {
	id := c.GetString(ContextKeySessionID)
	if c.GetBool(ContextKeySessionMinted) {
		return newBrowsingContext(id)
	}

	h.mu.Lock()
	bc, ok := h.contexts.Get(id)
	if !ok {
		bc = newBrowsingContext(id)
		h.contexts.Add(id, bc)
	}
	h.mu.Unlock()

	bc.restore.Do(func() {
		h.identity.CheckAuth(c.Request.Context(), bc.session)
	})
	return bc
}

func (h *Handler) session(c *gin.Context) *service.Session {
	return h.browsingContext(c).session
}

func (h *Handler) checkout(c *gin.Context, rail string) (*service.Checkout, error) {
	bc := h.browsingContext(c)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if co, ok := bc.checkouts[rail]; ok {
		return co, nil
	}
	co, err := h.payments.NewCheckout(rail)
	if err != nil {
		return nil, err
	}
	bc.checkouts[rail] = co
	return co, nil
}

// paymentsAvailable 降级状态下直接返回错误
func (h *Handler) paymentsAvailable(c *gin.Context) bool {
	if h.configErr != nil {
		response.BusinessError(c, response.CodePaymentUnavailable, "支付暂不可用: "+h.configErr.Error())
		return false
	}
	return true
}

// requireAdmin 管理员接口的前置检查
func (h *Handler) requireAdmin(c *gin.Context) bool {
	sess := h.session(c)
	if !sess.Authenticated() {
		response.Unauthorized(c, "请先登录")
		return false
	}
	if !h.identity.IsAdmin(sess) {
		response.Forbidden(c, "需要管理员权限")
		return false
	}
	return true
}

// ============================================================
// 身份相关接口
// ============================================================

// RegisterRequest 注册请求，password 可选
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register 注册
// POST /api/v1/auth/register
//
// 注册成功不会登录，账户需要验证后才能登录
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ok, err := h.identity.Register(c.Request.Context(), service.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if !ok {
		response.BusinessError(c, response.CodeRegisterRejected, "注册失败，邮箱无效或已被占用")
		return
	}

	response.Success(c, gin.H{
		"message": "注册成功，请等待账户验证",
	})
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
}

// Login 登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sess := h.session(c)
	ok, err := h.identity.Login(c.Request.Context(), sess, req.Email, req.Password)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if !ok {
		// 不区分邮箱不存在、未验证、密码错误
		response.BusinessError(c, response.CodeLoginFailed, "登录失败")
		return
	}

	respondAccount(c, sess.Account())
}

// Logout 登出，重复调用无副作用
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.identity.Logout(c.Request.Context(), h.session(c)); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"message": "已登出",
	})
}

// Me 当前登录用户
// GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	respondAccount(c, h.session(c).Account())
}

// respondAccount account 为 nil 说明会话已被并发登出
func respondAccount(c *gin.Context, account *model.Account) {
	if account == nil {
		response.Unauthorized(c, "未登录")
		return
	}
	response.Success(c, account.Public())
}

// Verify 管理员把账户标记为已验证
// POST /api/v1/auth/verify
func (h *Handler) Verify(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ok, err := h.identity.MarkVerified(c.Request.Context(), req.Email)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if !ok {
		response.BusinessError(c, response.CodeAccountNotFound, "账户不存在")
		return
	}

	response.Success(c, gin.H{
		"message": "账户已验证",
	})
}

// ListUsers 注册名册
// GET /api/v1/auth/users
func (h *Handler) ListUsers(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	roster, err := h.identity.Roster(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  roster,
		"total": len(roster),
	})
}

// ============================================================
// 卡片校验
// ============================================================

// ValidateCardRequest 全部字段按字符串接收，前导空格和分隔符由校验器处理
type ValidateCardRequest struct {
	Number   string `json:"number"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CVC      string `json:"cvc"`
}

// ValidateCard 本地校验卡片
// POST /api/v1/card/validate
func (h *Handler) ValidateCard(c *gin.Context) {
	var req ValidateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result := card.ValidateNow(req.Number, req.ExpMonth, req.ExpYear, req.CVC)
	response.Success(c, gin.H{
		"is_valid": result.IsValid,
		"errors":   result.Errors,
		"brand":    card.DetectBrand(req.Number),
	})
}

// ============================================================
// 支付相关接口
// ============================================================

// PaymentConfig 前端初始化支付组件需要的配置
// GET /api/v1/payment/config
func (h *Handler) PaymentConfig(c *gin.Context) {
	data := gin.H{
		"publishable_key": h.publishableKey,
		"home_currency":   h.homeCurrency,
		"rails":           h.payments.Rails(),
		"available":       h.configErr == nil,
	}
	if h.configErr != nil {
		data["error"] = h.configErr.Error()
	}
	response.Success(c, data)
}

// CreateIntentRequest amount 为主单位
type CreateIntentRequest struct {
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Currency string  `json:"currency"`
}

// CreateIntent 创建支付意图
// POST /api/v1/payment/intent
func (h *Handler) CreateIntent(c *gin.Context) {
	if !h.paymentsAvailable(c) {
		return
	}

	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	intent, err := h.payments.CreatePaymentIntent(c.Request.Context(), req.Amount, req.Currency)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	response.Success(c, intent)
}

// GetIntent 查询支付意图
// GET /api/v1/payment/intent?id=xxx
func (h *Handler) GetIntent(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.ParamError(c, "id 参数不能为空")
		return
	}

	intent, err := h.payments.GetPaymentIntent(id)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	// client secret 只在创建时返回
	intent.ClientSecret = ""
	response.Success(c, intent)
}

// ConfirmIntentRequest 确认支付意图
type ConfirmIntentRequest struct {
	ClientSecret  string `json:"client_secret" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// ConfirmIntent 确认支付意图
// POST /api/v1/payment/confirm
func (h *Handler) ConfirmIntent(c *gin.Context) {
	if !h.paymentsAvailable(c) {
		return
	}

	var req ConfirmIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.payments.ConfirmPaymentIntent(c.Request.Context(), req.ClientSecret, req.PaymentMethod)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	response.Success(c, result)
}

// ProcessPaymentRequest 模拟支付请求
type ProcessPaymentRequest struct {
	Rail          string  `json:"rail" binding:"required"`
	PaymentMethod string  `json:"payment_method" binding:"required"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
}

// ProcessPayment 通过结账组件发起支付
// POST /api/v1/payment/process
//
// 【关键点】
// 1. 同一个浏览上下文、同一个通道，上一笔没结束时再次提交直接拒绝
// 2. 拒付是正常结果，code=0，success=false
func (h *Handler) ProcessPayment(c *gin.Context) {
	if !h.paymentsAvailable(c) {
		return
	}

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	co, err := h.checkout(c, req.Rail)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	result, err := co.Pay(c.Request.Context(), req.PaymentMethod, req.Amount)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	response.Success(c, result)
}

// CheckoutStatus 结账组件当前状态
// GET /api/v1/payment/status?rail=card
func (h *Handler) CheckoutStatus(c *gin.Context) {
	co, err := h.checkout(c, c.DefaultQuery("rail", "card"))
	if err != nil {
		h.paymentError(c, err)
		return
	}

	response.Success(c, gin.H{
		"rail":        co.Rail(),
		"status":      co.Status(),
		"last_result": co.LastResult(),
	})
}

// ResetCheckout 结账组件回到 idle，处理中调用无效
// POST /api/v1/payment/reset?rail=card
func (h *Handler) ResetCheckout(c *gin.Context) {
	co, err := h.checkout(c, c.DefaultQuery("rail", "card"))
	if err != nil {
		h.paymentError(c, err)
		return
	}

	co.Reset()
	response.Success(c, gin.H{
		"rail":   co.Rail(),
		"status": co.Status(),
	})
}

// TransactionHistory 全部流水（管理员）
// GET /api/v1/payment/history
func (h *Handler) TransactionHistory(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	transactions, err := h.payments.GetTransactionHistory(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  transactions,
		"total": len(transactions),
	})
}

// PaymentStats 流水统计（管理员）
// GET /api/v1/payment/stats
func (h *Handler) PaymentStats(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	stats, err := h.payments.GetPaymentStats(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, stats)
}

func (h *Handler) paymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrUnknownRail):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrIntentNotFound):
		response.BusinessError(c, response.CodeIntentNotFound, err.Error())
	case errors.Is(err, service.ErrIntentResolved), errors.Is(err, service.ErrIntentInProgress):
		response.BusinessError(c, response.CodeIntentResolved, err.Error())
	case errors.Is(err, service.ErrCheckoutBusy):
		response.BusinessError(c, response.CodeCheckoutBusy, err.Error())
	default:
		response.BusinessError(c, response.CodePaymentFailed, err.Error())
	}
}
