package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/bookshell/bookshell-backend/internal/config"
	"github.com/bookshell/bookshell-backend/internal/db"
	"github.com/bookshell/bookshell-backend/internal/handlers"
	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/middleware"
	"github.com/bookshell/bookshell-backend/internal/models"
	"github.com/bookshell/bookshell-backend/internal/services/gateway"
	"github.com/bookshell/bookshell-backend/internal/services/momo"
	"github.com/bookshell/bookshell-backend/internal/services/moov"
	"github.com/bookshell/bookshell-backend/internal/services/notification"
	"github.com/bookshell/bookshell-backend/internal/services/payment"
	"github.com/bookshell/bookshell-backend/internal/services/wallet"
)

func main() {
	_ = godotenv.Load()
	log := logger.Get()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalw("database connection failed", "err", err)
	}

	if err := gdb.AutoMigrate(&models.User{}, &models.Wallet{}, &models.Transaction{}, &models.Notification{}); err != nil {
		log.Fatalw("migration failed", "err", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warnw("redis unavailable, notifications will not be pushed", "err", err)
		rdb = nil
	}

	walletSvc := wallet.NewWalletService(gdb)
	notifSvc := notification.NewNotificationService(gdb, rdb)

	gateways := map[models.PaymentProvider]gateway.Gateway{
		models.ProviderMTNMomo:   momo.NewMomoService(cfg),
		models.ProviderMoovMoney: moov.NewMoovService(cfg),
	}

	paymentSvc := payment.NewPaymentService(gdb, walletSvc, gateways, notifSvc)
	paymentSvc.Currency = cfg.Currency
	paymentSvc.CommissionRate = cfg.CommissionRate
	paymentSvc.MinWithdrawal = cfg.MinWithdrawalAmount
	paymentSvc.MaxWithdrawal = cfg.MaxWithdrawalAmount

	// periodic safety net for missed webhooks
	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %dm", cfg.ReconcileIntervalMin), func() {
		paymentSvc.ReconcilePending(time.Duration(cfg.ReconcileGraceMin) * time.Minute)
	})
	if err != nil {
		log.Fatalw("failed to schedule reconcile sweep", "err", err)
	}
	c.Start()

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://127.0.0.1:3000, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	paymentH := handlers.NewPaymentHandler(gdb, paymentSvc, walletSvc)
	webhookH := handlers.NewWebhookHandler(gdb, paymentSvc, cfg.MomoCallbackToken, cfg.MoovWebhookKey)

	// provider callbacks are authenticated by token/signature, not JWT
	app.Post("/webhooks/momo", webhookH.HandleMomo)
	app.Post("/webhooks/moov", webhookH.HandleMoov)

	api := app.Group("/api")

	protected := api.Group("/",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/wallet", paymentH.GetWallet)
	protected.Get("/wallet/transactions", paymentH.ListTransactions)
	protected.Post("/wallet/deposit", paymentH.Deposit)
	protected.Post("/wallet/withdraw", paymentH.Withdraw)
	protected.Get("/payments/:id/status", paymentH.CheckStatus)
	protected.Post("/purchases", paymentH.Purchase)
	protected.Post("/subscriptions/pay", paymentH.PaySubscription)

	protected.Post("/admin/reconcile",
		middleware.RequireRoles("admin"),
		paymentH.Reconcile,
	)

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
