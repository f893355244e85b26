package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-finance-service/internal/middleware"
)

// Router bundles the handlers mounted by RegisterRoutes
type Router struct {
	Webhooks       *WebhookHandler
	Admin          *AdminHandler
	Sellers        *SellerHandler
	Payouts        *PayoutHandler
	Orders         *OrderHandler
	Readiness      gin.HandlerFunc
	AdminToken     string
	WebhookLimiter *middleware.RateLimiter
}

// RegisterRoutes mounts every endpoint on the engine
func RegisterRoutes(r *gin.Engine, h Router) {
	r.GET("/health", HealthCheck)
	if h.Readiness != nil {
		r.GET("/ready", h.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := r.Group("/webhooks")
	if h.WebhookLimiter != nil {
		webhooks.Use(middleware.RateLimit(h.WebhookLimiter))
	}
	{
		webhooks.POST("/razorpay", h.Webhooks.PaymentWebhook)
		webhooks.POST("/shiprocket", h.Webhooks.ShippingWebhook)
	}

	api := r.Group("/api/v1")
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.Orders.CreateOrder)
			orders.GET("/:id", h.Orders.GetOrder)
			orders.GET("/:id/history", h.Orders.GetOrderHistory)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(h.AdminToken))
		{
			admin.GET("/finance/state", h.Admin.GetState)
			admin.GET("/finance/mismatch", h.Admin.GetMismatch)
			admin.POST("/finance/freeze", h.Admin.SetFreeze)
			admin.POST("/finance/revalidate", h.Admin.Revalidate)
			admin.POST("/finance/reconcile", h.Admin.Reconcile)
			admin.POST("/finance/safe-recover", h.Admin.SafeRecover)

			admin.GET("/jobs", h.Admin.GetJobs)
			admin.PUT("/jobs", h.Admin.SetJobs)

			admin.GET("/alerts", h.Admin.ListAlerts)
			admin.POST("/alerts/:id/resolve", h.Admin.ResolveAlert)

			admin.GET("/sellers/risky", h.Sellers.ListRiskySellers)
			admin.GET("/sellers/:id/risk", h.Sellers.GetSellerRisk)
			admin.PUT("/sellers/:id/mode", h.Sellers.OverrideMode)
			admin.POST("/sellers/:id/score", h.Sellers.ScoreSeller)
			admin.POST("/sellers/:id/evaluate", h.Sellers.EvaluateMode)
			admin.POST("/products/:id/publish", h.Sellers.PublishProduct)

			admin.POST("/payouts", h.Payouts.CreatePayout)
			admin.POST("/payouts/:id/complete", h.Payouts.CompletePayout)
			admin.POST("/payouts/:id/fail", h.Payouts.FailPayout)
			admin.POST("/payouts/:id/resolve", h.Payouts.ResolvePayoutFailure)

			admin.PATCH("/orders/:id/status", h.Orders.UpdateStatus)
			admin.POST("/orders/:id/tracking/refresh", h.Orders.RefreshTracking)
		}
	}
}
