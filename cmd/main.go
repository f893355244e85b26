package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/events"
	"marketplace-finance-service/internal/handlers"
	"marketplace-finance-service/internal/jobs"
	"marketplace-finance-service/internal/middleware"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
	"marketplace-finance-service/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	db, err := initDatabase(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
	logger.Info("✓ Database migrated")

	store := repository.NewStore(db)
	runtime := config.NewRuntimeSettings(cfg)

	// Redis read cache (optional - reads fall through to postgres without it)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	readCache, redisClient := cache.Connect(ctx, cfg.Redis.URL, cfg.Redis.CacheTTL, logger)
	cancel()

	// NATS publisher (optional - outbox rows stay pending until it is reachable)
	var publisher services.EventPublisher
	natsPublisher, err := events.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
	if err != nil {
		logger.WithError(err).Warn("NATS publisher unavailable, domain events will stay in the outbox")
	} else {
		publisher = natsPublisher
	}

	// Provider clients
	gateway, err := clients.NewRazorpayGateway(cfg.Razorpay)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Razorpay gateway")
	}
	shiprocket := clients.NewShiprocketClient(cfg.Shiprocket)
	notificationClient := clients.NewNotificationClient(cfg.Finance.NotificationServiceURL)
	quality := clients.NewQualityClient(cfg.Finance.QualityServiceURL)

	queue := jobs.NewClient(jobs.RedisOpt(cfg.Queue), cfg.Queue.MaxRetry, logger)

	// Services
	alertService := services.NewAlertService(store, readCache, logger)
	settlementService := services.NewSettlementService(store, cfg.Settlement, logger)
	modeService := services.NewModeService(store, quality, cfg, logger)
	riskService := services.NewRiskService(store, queue, cfg.Risk, logger)
	refundService := services.NewRefundService(store, gateway, queue, alertService, logger)
	orderService := services.NewOrderService(store, gateway, queue, modeService, refundService, settlementService, alertService, cfg, logger)
	shipmentService := services.NewShipmentService(store, shiprocket, orderService, settlementService, queue, cfg.Shiprocket, logger)
	paymentWebhooks := services.NewPaymentWebhookService(store, orderService, refundService, settlementService, alertService, cfg, logger)
	shippingWebhooks := services.NewShippingWebhookService(store, shipmentService, cfg.Shiprocket, logger)
	reconciliationService := services.NewReconciliationService(store, alertService, queue, runtime, readCache, cfg, logger)
	payoutService := services.NewPayoutService(store, alertService, queue, logger)
	notificationService := services.NewNotificationService(store, notificationClient, logger)
	eventRelay := services.NewEventRelay(store, publisher, cfg.NATS.Subject, logger)

	// Queue worker
	worker := jobs.NewWorker(jobs.RedisOpt(cfg.Queue), cfg.Queue.Concurrency, jobs.Handlers{
		Orders:        orderService,
		Shipments:     shipmentService,
		Refunds:       refundService,
		Notifications: notificationService,
		Deliveries:    queue,
		Events:        eventRelay,
		Revalidation:  reconciliationService,
		Modes:         modeService,
	}, store.Jobs, logger)
	if err := worker.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start job worker")
	}

	// Recurring sweeps
	scheduler := jobs.NewScheduler(redisClient, runtime.IsJobsEnabled, logger)
	if err := jobs.RegisterFinanceJobs(scheduler, jobs.Sweeps{
		Reconciliation: reconciliationService,
		Risk:           riskService,
		Modes:          modeService,
		Orders:         orderService,
		Settlement:     settlementService,
		Events:         eventRelay,
	}, cfg); err != nil {
		logger.WithError(err).Fatal("Failed to register scheduled jobs")
	}
	scheduler.Start()

	readiness := map[string]handlers.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	router := setupRouter(cfg, logger, handlers.Router{
		Webhooks:       handlers.NewWebhookHandler(paymentWebhooks, shippingWebhooks, logger),
		Admin:          handlers.NewAdminHandler(reconciliationService, alertService, store.Jobs, runtime.IsJobsEnabled, readCache, logger),
		Sellers:        handlers.NewSellerHandler(riskService, modeService, readCache, logger),
		Payouts:        handlers.NewPayoutHandler(payoutService, readCache, logger),
		Orders:         handlers.NewOrderHandler(orderService, shipmentService, logger),
		Readiness:      handlers.ReadinessCheck(readiness),
		AdminToken:     cfg.App.AdminToken,
		WebhookLimiter: middleware.NewRateLimiter(cfg.Finance.WebhookRateLimitPerSec, cfg.Finance.WebhookRateLimitBurst),
	})

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("address", srv.Addr).Info("Starting marketplace finance service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down marketplace finance service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	scheduler.Stop()
	worker.Shutdown()
	if err := queue.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close job queue client")
	}
	if natsPublisher != nil {
		natsPublisher.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Marketplace finance service stopped")
}

// initDatabase initializes the database connection
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// setupRouter configures the Gin router with middleware and routes
func setupRouter(cfg *config.Config, logger *logrus.Logger, h handlers.Router) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.SetupCORS(cfg.App.AllowedOrigins))

	handlers.RegisterRoutes(router, h)
	return router
}
