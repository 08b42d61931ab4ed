package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/chat"
	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/events"
	"jcm-p2p-backend/internal/gateway/card"
	"jcm-p2p-backend/internal/gateway/mpesa"
	"jcm-p2p-backend/internal/handlers"
	"jcm-p2p-backend/internal/logger"
	"jcm-p2p-backend/internal/metrics"
	"jcm-p2p-backend/internal/middleware"
	"jcm-p2p-backend/internal/routes"
	"jcm-p2p-backend/internal/services"
	"jcm-p2p-backend/internal/store"
	"jcm-p2p-backend/pkg/utils"
)

func main() {
	// 1. Config + logger
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("env", cfg.Env))
	for _, w := range cfg.Warnings() {
		log.Warn("insecure configuration", zap.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database, migrated before serving
	db, err := store.Open(cfg.DB, log)
	if err != nil {
		log.Fatal("database connect", zap.Error(err))
	}
	defer func() {
		if err := store.Close(db); err != nil {
			log.Warn("database close", zap.Error(err))
		}
		log.Info("database pool closed")
	}()

	applied, err := store.Migrate(db, log)
	if err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("schema up to date", zap.Strings("applied", applied))

	// 3. Redis caches the M-Pesa access token when available
	var rdb *redis.Client
	var tokens mpesa.TokenStore = mpesa.NewMemoryTokenStore()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, caching tokens in memory", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		} else {
			tokens = mpesa.NewRedisTokenStore(rdb)
			defer rdb.Close()
		}
	}

	// 4. Outbox relay to Kafka (or the log when no brokers are configured)
	var publisher events.Publisher = events.LogPublisher{Log: log}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers)
		log.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		events.NewRelay(db, publisher, log, cfg.OutboxInterval).Run(ctx)
	}()

	// 5. Push notifications
	var notifier utils.Notifier = utils.NopNotifier{}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := utils.NewFCMNotifier(ctx, cfg.FCMCredentialsFile, log)
		if err != nil {
			log.Warn("firebase disabled", zap.Error(err))
		} else {
			notifier = fcm
		}
	}

	// 6. Services + HTTP
	if err := utils.RegisterValidators(); err != nil {
		log.Fatal("register validators", zap.Error(err))
	}

	hub := chat.NewHub(allowOrigin(cfg.CORSOrigin), log)
	wallets := services.NewWalletService(db, mpesa.NewClient(cfg.MPesa, tokens, log), card.NewMidtrans(cfg.Midtrans), notifier, log,
		services.WithMobileMoneyLimit(cfg.MPesa.MaxAmount))
	h := handlers.New(handlers.Deps{
		Users:         services.NewUserService(db, cfg, log),
		Wallets:       wallets,
		Markets:       services.NewMarketService(db, log),
		Chat:          services.NewChatService(db, hub, log),
		Hub:           hub,
		CallbackToken: cfg.MPesa.CallbackToken,
		Log:           log,
	})

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	routes.SetupRoutes(r, h, routes.Options{
		JWTSecret:  cfg.JWTSecret,
		CORSOrigin: cfg.CORSOrigin,
		UploadDir:  cfg.UploadDir,
		Limiter:    middleware.NewIPRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	})

	metricsSrv := metrics.StartServer(cfg.MetricsPort, health(db, rdb), log)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server", zap.Error(err))
			stop()
		}
	}()

	// 7. Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", zap.Error(err))
	}
	<-relayDone
	if err := publisher.Close(); err != nil {
		log.Warn("publisher close", zap.Error(err))
	}
}

// health backs /healthz: the DB must answer, and redis too when configured.
func health(db *gorm.DB, rdb *redis.Client) metrics.HealthFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}

func allowOrigin(origin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		got := r.Header.Get("Origin")
		return origin == "*" || got == "" || got == origin
	}
}
