package handler

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderSessionID 浏览上下文标识，相当于前端的一个标签页
	HeaderSessionID = "X-Session-ID"
	// ContextKeySessionID gin.Context 中保存上下文标识的 key
	ContextKeySessionID = "session_id"
	// ContextKeySessionMinted 上下文标识是本次请求生成的
	ContextKeySessionMinted = "session_minted"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, "+HeaderSessionID)
		c.Header("Access-Control-Expose-Headers", HeaderSessionID)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// SessionMiddleware 读取浏览上下文标识，没有时生成一个并在响应头返回
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderSessionID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
			c.Set(ContextKeySessionMinted, true)
		}
		c.Set(ContextKeySessionID, id)
		c.Header(HeaderSessionID, id)
		c.Next()
	}
}
