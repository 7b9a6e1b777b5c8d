package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safaripay/config"
	"safaripay/internal/cache"
	"safaripay/internal/database"
	"safaripay/internal/middleware"
	"safaripay/internal/router"
	"safaripay/internal/service"
	"safaripay/pkg/payment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	payoutSweepInterval = time.Minute
	payoutMinAge        = 2 * time.Minute
	payoutSweepBatch    = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.Server.Env)
	defer func() { _ = logger.Sync() }()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store cache.IdempotencyStore = cache.NewMemoryIdempotencyStore()
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer client.Close()
		store = cache.NewRedisIdempotencyStore(client)
		logger.Info("idempotency keys in redis", zap.String("addr", cfg.Redis.Addr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	engine, settlement := router.Setup(cfg, router.Deps{
		DB:          db,
		Rails:       newRails(cfg, logger),
		Idempotency: store,
		Registry:    reg,
		Limiter:     limiter,
		Logger:      logger,
	})
	go sweepQueuedPayouts(ctx, settlement, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("rails", cfg.Payment.Rails))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}

func newRails(cfg *config.Config, logger *zap.Logger) service.Rails {
	if cfg.Payment.Rails == "stub" {
		logger.Warn("using stub payment rails")
		stub := &payment.StubProvider{SettlePayouts: true}
		return service.Rails{Card: stub, Mpesa: stub, MpesaPayout: stub, Bank: stub}
	}
	mpesa := payment.NewLiberecMpesaProvider(cfg.LiberecMpesa.BaseURL, cfg.LiberecMpesa.Email, cfg.LiberecMpesa.Password, logger)
	return service.Rails{
		Card:        payment.NewCardProvider(cfg.Card.BaseURL, cfg.Card.APIKey, logger),
		Mpesa:       mpesa,
		MpesaPayout: mpesa,
		Bank:        payment.NewBankProvider(cfg.Bank.BaseURL, cfg.Bank.APIKey, cfg.Bank.SourceAccount, logger),
	}
}

// sweepQueuedPayouts dispatches withdrawals left QUEUED by a crash between
// reservation and dispatch.
func sweepQueuedPayouts(ctx context.Context, svc *service.SettlementService, logger *zap.Logger) {
	tick := time.NewTicker(payoutSweepInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := svc.DispatchQueuedPayouts(ctx, payoutMinAge, payoutSweepBatch)
			if err != nil {
				logger.Error("dispatch queued payouts", zap.Error(err))
			} else if n > 0 {
				logger.Info("dispatched queued payouts", zap.Int("count", n))
			}
		}
	}
}
