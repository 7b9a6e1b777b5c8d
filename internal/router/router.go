package router

import (
	"net/http"

	"safaripay/config"
	"safaripay/internal/cache"
	"safaripay/internal/domain"
	"safaripay/internal/handler"
	"safaripay/internal/metrics"
	"safaripay/internal/middleware"
	"safaripay/internal/repository"
	"safaripay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the process-level resources the router wires together.
type Deps struct {
	DB          *gorm.DB
	Rails       service.Rails
	Idempotency cache.IdempotencyStore
	Registry    *prometheus.Registry
	Limiter     *middleware.InMemoryRateLimiter
	Logger      *zap.Logger
}

// Setup builds repositories, services and handlers and mounts the API. The
// settlement service is returned for background payout dispatch.
func Setup(cfg *config.Config, d Deps) (*gin.Engine, *service.SettlementService) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := d.Logger
	var reg prometheus.Registerer
	if d.Registry != nil {
		reg = d.Registry
	}
	m := metrics.NewMetrics(reg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger.Named("http")))

	// Repositories
	walletRepo := repository.NewWalletRepository(d.DB)
	txnRepo := repository.NewTransactionRepository(d.DB)
	revenueRepo := repository.NewRevenueRepository(d.DB)
	auditRepo := repository.NewAuditLogRepository(d.DB)

	// Services
	revenueSvc := service.NewRevenueService(revenueRepo, cfg.Ledger.WithdrawalFeeRate, cfg.Ledger.CostRates, m, logger)
	settlementSvc := service.NewSettlementService(d.DB, walletRepo, txnRepo, revenueSvc, d.Rails,
		service.Policy{
			RailTimeout:    cfg.Payment.RailTimeout,
			Rates:          cfg.Ledger.Rates,
			WebhookURL:     cfg.Payment.WebhookURL,
			MaxAmountCents: cfg.Ledger.MaxTransactionCents,
		}, m, logger)

	// Handlers
	walletHandler := handler.NewWalletHandler(settlementSvc, logger)
	topUpHandler := handler.NewTopUpHandler(settlementSvc, logger)
	paymentHandler := handler.NewPaymentHandler(settlementSvc, logger)
	withdrawalHandler := handler.NewWithdrawalHandler(settlementSvc, logger)
	adminHandler := handler.NewAdminHandler(settlementSvc, revenueSvc, logger)
	webhookHandler := handler.NewWebhookHandler(settlementSvc, auditRepo, cfg.Payment.WebhookSecret, m, logger)

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")

	// Rail callbacks: no auth, signature-checked when a secret is set
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/card", webhookHandler.Card)
		webhooks.POST("/mpesa", webhookHandler.Mpesa)
		webhooks.POST("/withdrawal", webhookHandler.Withdrawal)
		webhooks.POST("/bank", webhookHandler.Bank)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthRequired(&cfg.JWT))
	if d.Limiter != nil {
		authed.Use(middleware.RateLimit(d.Limiter))
	}
	if d.Idempotency != nil {
		authed.Use(middleware.Idempotency(d.Idempotency, cfg.Redis.IdempotencyTTL, m, logger))
	}
	{
		authed.POST("/me/wallet", walletHandler.Open)
		authed.GET("/me/wallet", walletHandler.GetBalance)
		authed.GET("/me/transactions", walletHandler.ListTransactions)
		authed.GET("/me/transactions/:id", walletHandler.GetTransaction)

		tourist := authed.Group("", middleware.RequireRole(domain.RoleTourist))
		tourist.POST("/topups", topUpHandler.Create)
		tourist.POST("/payments", paymentHandler.Create)

		business := authed.Group("", middleware.RequireRole(domain.RoleBusiness))
		business.POST("/withdrawals", withdrawalHandler.Create)
		business.POST("/withdrawals/:id/cancel", withdrawalHandler.Cancel)

		admin := authed.Group("/admin", middleware.AdminRequired())
		admin.GET("/transactions", adminHandler.ListTransactions)
		admin.GET("/revenue", adminHandler.ListRevenue)
		admin.GET("/revenue/summary", adminHandler.RevenueSummary)
	}

	return r, settlementSvc
}
