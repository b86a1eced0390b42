// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"

	"talktime-service/internal/config"
	"talktime-service/internal/db"
	"talktime-service/internal/gateway"
	adminHandler "talktime-service/internal/handlers/admin"
	couponHandler "talktime-service/internal/handlers/coupon"
	notifyH "talktime-service/internal/handlers/notification"
	paymentHandler "talktime-service/internal/handlers/payment"
	subscriptionHandler "talktime-service/internal/handlers/subscription"
	walletHandler "talktime-service/internal/handlers/wallet"
	"talktime-service/internal/middleware"
	"talktime-service/internal/notify"
	"talktime-service/internal/repository/postgres"
	couponUsecase "talktime-service/internal/service/coupon"
	reconcilerUsecase "talktime-service/internal/service/reconciler"
	schedulerUsecase "talktime-service/internal/service/scheduler"
	subscriptionUsecase "talktime-service/internal/service/subscription"
	sweeperUsecase "talktime-service/internal/service/sweeper"
	walletUsecase "talktime-service/internal/service/wallet"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.Default()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	usageRepo := postgres.NewCouponUsageRepository(pool)
	planRepo := postgres.NewPlanRepository(pool)
	periodRepo := postgres.NewPeriodRepository(pool)
	walletRepo := postgres.NewWalletRepository(pool)
	withdrawalRepo := postgres.NewWithdrawalRepository(pool)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(pool)

	// ----- Gateway & Push -----
	gatewayClient := gateway.NewHTTPClient(
		s.cfg.GatewayName,
		s.cfg.GatewayBaseURL,
		s.cfg.GatewayKeyID,
		s.cfg.GatewayKeySecret,
	)
	pusher := notify.NewHTTPPusher(s.cfg.PushEndpoint, s.cfg.PushServerKey)
	notifyService := notify.NewService(pusher, deviceTokenRepo, logger)

	// ----- Services (Usecases) -----
	couponService := couponUsecase.NewService(couponRepo, usageRepo, planRepo, logger)
	schedulerService := schedulerUsecase.NewService(periodRepo, logger)
	walletService := walletUsecase.NewService(
		dbWrapper,
		walletRepo,
		withdrawalRepo,
		s.cfg.WithdrawalDailyCap,
		s.cfg.DefaultCurrency,
		logger,
	)
	reconcilerService := reconcilerUsecase.NewService(
		dbWrapper,
		periodRepo,
		planRepo,
		schedulerService,
		couponService,
		walletService,
		gatewayClient,
		notifyService,
		s.cfg.DefaultCurrency,
		logger,
	)
	subscriptionService := subscriptionUsecase.NewService(periodRepo, planRepo, logger)
	sweeperService := sweeperUsecase.NewService(periodRepo, redisClient, notifyService, s.cfg.SweepHour, logger)

	if err := sweeperService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	defer sweeperService.Stop()

	// ----- Handlers -----
	paymentHandlerInst := paymentHandler.NewPaymentHandler(reconcilerService, s.cfg.GatewayWebhookSecret, logger)
	walletHandlerInst := walletHandler.NewWalletHandler(walletService)
	couponHandlerInst := couponHandler.NewCouponHandler(couponService)
	subscriptionHandlerInst := subscriptionHandler.NewSubscriptionHandler(subscriptionService)
	notifHandlerInst := notifyH.NewNotificationHandler(deviceTokenRepo)
	adminHandlerInst := adminHandler.NewAdminHandler(sweeperService, subscriptionService, walletService)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(s.cfg.JWTSecret)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	handlers := &Handlers{
		PaymentHandler:      paymentHandlerInst,
		WalletHandler:       walletHandlerInst,
		CouponHandler:       couponHandlerInst,
		SubscriptionHandler: subscriptionHandlerInst,
		NotifHandler:        notifHandlerInst,
		AdminHandler:        adminHandlerInst,
		AuthMiddleware:      authMiddleware,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}
