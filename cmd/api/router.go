package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payment-orchestrator/internal/shared/middleware"
	"payment-orchestrator/pkg/container"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.ClientIP(),
		middleware.Logger(),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(c))

		setupPaymentRoutes(v1, c)
		setupCallbackRoutes(v1, c)
		setupWebhookRoutes(v1, c)
	}

	return router
}

// ========================================
// PAYMENT ROUTES
// ========================================
func setupPaymentRoutes(v1 *gin.RouterGroup, c *container.Container) {
	payments := v1.Group("/payments")
	{
		payments.POST("", c.PaymentHandler.CreatePayment)
		payments.GET("", c.PaymentHandler.ListPayments)
		payments.GET("/:payment_id", c.PaymentHandler.GetPayment)

		payments.POST("/:payment_id/complete", c.PaymentHandler.CompletePayment)
		payments.POST("/:payment_id/fail", c.PaymentHandler.FailPayment)
		payments.POST("/:payment_id/refund", c.PaymentHandler.RefundPayment)
		payments.POST("/:payment_id/cancel", c.PaymentHandler.CancelPayment)

		payments.POST("/:payment_id/3ds/initiate", c.PaymentHandler.InitiateThreeDS)
		payments.POST("/:payment_id/3ds/complete", c.PaymentHandler.CompleteThreeDS)

		payments.GET("/:payment_id/webhooks", c.WebhookHandler.ListPaymentDeliveries)
	}
}

// ========================================
// PROVIDER CALLBACK ROUTES
// ========================================
func setupCallbackRoutes(v1 *gin.RouterGroup, c *container.Container) {
	v1.POST("/callbacks/:provider", c.PaymentHandler.ProviderCallback)
}

// ========================================
// WEBHOOK ROUTES
// ========================================
func setupWebhookRoutes(v1 *gin.RouterGroup, c *container.Container) {
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/endpoints", c.WebhookHandler.RegisterEndpoint)
		webhooks.DELETE("/endpoints/:endpoint_id", c.WebhookHandler.DeactivateEndpoint)
		webhooks.GET("/deliveries/:delivery_id", c.WebhookHandler.GetDelivery)
		webhooks.POST("/retry", c.WebhookHandler.RetryDue)
	}
}

// ========================================
// HEALTH
// ========================================
func healthCheckHandler(appCtx *container.Container) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := "ok"
		services := gin.H{}
		for name, err := range appCtx.HealthCheck(ctx) {
			if err != nil {
				services[name] = "error: " + err.Error()
				status = "degraded"
				continue
			}
			services[name] = "ok"
		}
		if appCtx.DB != nil {
			services["database_pool"] = appCtx.DB.Stats()
		} else {
			services["database"] = "in-memory"
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   appCtx.Config.App.Version,
			"providers": appCtx.Registry.Names(),
			"services":  services,
		})
	}
}
