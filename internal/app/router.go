// internal/app/router.go
package app

import (
	adminHandler "talktime-service/internal/handlers/admin"
	couponHandler "talktime-service/internal/handlers/coupon"
	notifyHandler "talktime-service/internal/handlers/notification"
	paymentHandler "talktime-service/internal/handlers/payment"
	subscriptionHandler "talktime-service/internal/handlers/subscription"
	walletHandler "talktime-service/internal/handlers/wallet"
	"talktime-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	PaymentHandler      *paymentHandler.PaymentHandler
	WalletHandler       *walletHandler.WalletHandler
	CouponHandler       *couponHandler.CouponHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	NotifHandler        *notifyHandler.NotificationHandler
	AdminHandler        *adminHandler.AdminHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Payments ====================
	payments := api.Group("/payments")
	{
		// Gateway callback authenticates via HMAC signature, not a user token
		payments.POST("/webhook", h.PaymentHandler.Webhook)

		paymentsAuth := payments.Group("")
		paymentsAuth.Use(h.AuthMiddleware.Auth())
		{
			paymentsAuth.POST("/order", h.PaymentHandler.CreateOrder)
			paymentsAuth.POST("/verify", h.PaymentHandler.Verify)
		}
	}

	// ==================== Plans ====================
	plans := api.Group("/plans")
	{
		plans.GET("", h.SubscriptionHandler.ListPlans)
		plans.GET("/:id", h.SubscriptionHandler.GetPlan)
	}

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(h.AuthMiddleware.Auth())
	{
		subscriptions.GET("", h.SubscriptionHandler.ListPeriods)
		subscriptions.GET("/active", h.SubscriptionHandler.GetActivePeriod)
	}

	// ==================== Wallet ====================
	wallet := api.Group("/wallet")
	wallet.Use(h.AuthMiddleware.Auth())
	{
		wallet.GET("", h.WalletHandler.GetStatement) // ?kind=earning
		wallet.POST("/withdrawals", h.WalletHandler.RequestWithdrawal)
		wallet.GET("/withdrawals", h.WalletHandler.ListWithdrawals)
	}

	// ==================== Coupons ====================
	coupons := api.Group("/coupons")
	coupons.Use(h.AuthMiddleware.Auth())
	{
		coupons.POST("/preview", h.CouponHandler.Preview)
	}

	// ==================== Devices ====================
	devices := api.Group("/devices")
	devices.Use(h.AuthMiddleware.Auth())
	{
		devices.POST("/token", h.NotifHandler.RegisterDevice)
	}

	// ==================== ADMIN ROUTES ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.StaffOnly()...)
	{
		// Coupon management
		adminCoupons := admin.Group("/coupons")
		{
			adminCoupons.POST("", h.CouponHandler.CreateCoupon)
			adminCoupons.GET("", h.CouponHandler.ListCoupons)
			adminCoupons.DELETE("/:code", h.CouponHandler.DisableCoupon)
			adminCoupons.GET("/:code/usages", h.CouponHandler.ListUsages)
		}

		// Withdrawal management
		adminWithdrawals := admin.Group("/withdrawals")
		{
			adminWithdrawals.PUT("/:id/approve", h.WalletHandler.ApproveWithdrawal)
			adminWithdrawals.PUT("/:id/reject", h.WalletHandler.RejectWithdrawal)
		}

		// Operations
		admin.POST("/sweeper/run", h.AdminHandler.RunSweep)
		admin.GET("/users/:id/ledger", h.AdminHandler.GetUserLedger)
	}
}
