package router

import (
	"github.com/entrega-next/internal/config"
	opshandlers "github.com/entrega-next/internal/http/handlers/ops"
	webhookhandlers "github.com/entrega-next/internal/http/handlers/webhook"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	webhookHandler := webhookhandlers.New(c)
	opsHandler := opshandlers.New(c)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))

	// 渠道回调：签名校验与按号码限流在处理器内完成
	hooks := r.Group("/webhooks")
	{
		hooks.GET("/whatsapp", webhookHandler.VerifyWhatsApp)
		hooks.POST("/whatsapp", webhookHandler.ReceiveWhatsApp)
		hooks.POST("/pagseguro", webhookHandler.ReceivePagSeguro)
	}

	apiV1 := r.Group("/api/v1")
	apiV1.Use(RateLimitMiddleware(c.APILimiter, KeyByIP))
	{
		orders := apiV1.Group("/orders")
		{
			orders.GET("/:id", opsHandler.GetOrder)
			orders.POST("/:id/assign", opsHandler.AssignDriver)
			orders.POST("/:id/cancel", opsHandler.CancelOrder)
			orders.POST("/:id/refund", opsHandler.RefundPayment)
		}

		deliveries := apiV1.Group("/deliveries")
		{
			deliveries.POST("/:id/events", opsHandler.ApplyDeliveryEvent)
			deliveries.POST("/:id/position", opsHandler.RecordPosition)
			deliveries.POST("/:id/rating", opsHandler.RateDelivery)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
