package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/coupon"
	"storefront/internal/gateway"
	"storefront/internal/otp"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	tokens := auth.NewTokenManager(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	coupons := coupon.NewRepoValidator(db)
	chapa := gateway.NewChapaClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey)

	authService := service.NewAuthService(db, redisClient, tokens, otp.NewLogSender(logger), service.AuthConfig{
		OTPTTL:      cfg.Business.OTPTTL,
		OTPCooldown: cfg.Business.OTPCooldown,
	})
	catalogService := service.NewCatalogService(db, redisClient, cfg.Business.FeaturedCacheTTL)
	cartService := service.NewCartService(db, db, redisClient, cfg.Business.CartCacheTTL)
	favoriteService := service.NewFavoriteService(db, db)
	userService := service.NewUserService(db)
	analyticsService := service.NewAnalyticsService(db)
	fulfillmentService := service.NewFulfillmentService(db, db, service.FulfillmentConfig{
		RewardThreshold: cfg.Business.RewardThreshold,
	})
	checkoutService := service.NewCheckoutService(
		db, db, db, coupons, chapa, eventPublisher, cartService, redisClient,
		service.CheckoutConfig{
			Currency:       cfg.Gateway.Currency,
			CallbackURL:    cfg.Server.BaseURL + "/api/payment/callback",
			VerifyURL:      cfg.Server.BaseURL + "/api/payment/verify/",
			SuccessURL:     cfg.Server.FrontendURL + "/purchase-success",
			CancelURL:      cfg.Server.FrontendURL + "/purchase-cancel",
			GatewayTimeout: cfg.Gateway.Timeout,
			IdempotencyTTL: cfg.Business.IdempotencyTTL,
		},
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(consumer, fulfillmentService)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := fulfillmentWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Fulfillment worker error", zap.Error(err))
		}
	}()

	reconciler := worker.NewReconciler(checkoutService, cfg.Business.ReconcileInterval, cfg.Business.ReconcileAfter)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := reconciler.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reconciler error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Auth:          authService,
		Catalog:       catalogService,
		Cart:          cartService,
		Coupons:       coupons,
		Checkout:      checkoutService,
		Favorites:     favoriteService,
		Users:         userService,
		Analytics:     analyticsService,
		Tokens:        tokens,
		UserLookup:    db,
		Readiness:     map[string]api.Pinger{"postgres": db, "redis": redisClient},
		SecureCookies: cfg.IsProduction(),
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	workers.Wait()
	if err := fulfillmentWorker.Stop(); err != nil {
		logger.Warn("Error stopping fulfillment worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
