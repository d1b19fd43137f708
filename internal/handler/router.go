package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(SessionMiddleware())
	{
		// 身份相关
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Register)
			auth.POST("/login", h.Login)
			auth.POST("/logout", h.Logout)
			auth.GET("/me", h.Me)
			auth.POST("/verify", h.Verify)
			auth.GET("/users", h.ListUsers)
		}

		// 卡片校验
		api.POST("/card/validate", h.ValidateCard)

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.GET("/config", h.PaymentConfig)
			payment.POST("/intent", h.CreateIntent)
			payment.GET("/intent", h.GetIntent)
			payment.POST("/confirm", h.ConfirmIntent)
			payment.POST("/process", h.ProcessPayment)
			payment.GET("/status", h.CheckoutStatus)
			payment.POST("/reset", h.ResetCheckout)
			payment.GET("/history", h.TransactionHistory)
			payment.GET("/stats", h.PaymentStats)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
