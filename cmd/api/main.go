package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/cache"
	"delivery-tracker/internal/core/config"
	"delivery-tracker/internal/core/database"
	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/core/server"
	deliveryadapter "delivery-tracker/internal/features/deliveries/adapters"
	deliveryhandler "delivery-tracker/internal/features/deliveries/handler"
	"delivery-tracker/internal/features/deliveries/ports"
	deliveryservice "delivery-tracker/internal/features/deliveries/service"
	realtimeadapter "delivery-tracker/internal/features/realtime/adapters"
	realtimehandler "delivery-tracker/internal/features/realtime/handler"
	"delivery-tracker/internal/features/realtime/hub"
	"delivery-tracker/internal/features/realtime/session"

	"go.uber.org/zap"
)

// @title Delivery Tracker API
// @version 1.0
// @description Delivery tracking with status history and realtime updates.
// @contact.name API Support
// @contact.email support@delivery-tracker.dev
// @license.name MIT
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the token.
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("fanout_backend", cfg.Fanout.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the token whitelist in every configuration.
	redisAdapter, err := cache.NewRedisAdapter(cfg.Store.RedisURL)
	if err != nil {
		l.Fatal("Invalid Redis configuration", zap.Error(err))
	}
	defer redisAdapter.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	err = redisAdapter.Ping(pingCtx)
	cancel()
	if err != nil {
		l.Fatal("Redis Health Check Failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	tokens := auth.NewTokenManager(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
	}, redisAdapter)

	// Initialize Delivery Store
	var repo ports.DeliveryRepository
	switch cfg.Store.Driver {
	case "postgres":
		dbCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		db, err := database.Open(dbCtx, cfg.Store.DatabaseURL)
		if err != nil {
			cancel()
			l.Fatal("Postgres Health Check Failed", zap.Error(err))
		}
		defer db.Close()

		pgRepo := deliveryadapter.NewPostgresDeliveryRepository(db)
		err = pgRepo.EnsureSchema(dbCtx)
		cancel()
		if err != nil {
			l.Fatal("Failed to prepare Postgres schema", zap.Error(err))
		}
		repo = pgRepo
		l.Info("Postgres delivery store ready")
	default:
		repo = deliveryadapter.NewRedisDeliveryRepository(redisAdapter.Client(), cfg.Store.MaxRetries)
		l.Info("Redis delivery store ready")
	}

	// Initialize Realtime Fanout
	deliveryHub := hub.New()
	var publisher ports.EventPublisher = deliveryHub
	if cfg.Fanout.Backend == "redis" {
		relay := realtimeadapter.NewRedisRelay(redisAdapter.Client(), deliveryHub, cfg.Fanout.ChannelPrefix)
		go func() {
			if err := relay.Run(ctx); err != nil {
				l.Error("Delivery relay stopped", zap.Error(err))
				stop()
			}
		}()
		publisher = relay
	}

	// Initialize Delivery Service & Handlers
	deliverySvc := deliveryservice.NewDeliveryService(repo, publisher,
		deliveryservice.WithMaxIDAttempts(cfg.Store.IDMaxAttempts),
		deliveryservice.WithStoreTimeout(cfg.Store.Timeout),
		deliveryservice.WithPublishTimeout(cfg.Fanout.PublishTimeout),
	)
	deliveryHdl := deliveryhandler.NewDeliveryHandler(deliverySvc)
	realtimeHdl := realtimehandler.NewRealtimeHandler(ctx, deliveryHub, deliverySvc, session.Config{
		Buffer:       cfg.Fanout.SubscriberBuffer,
		WriteTimeout: cfg.Fanout.SubscriberWriteTimeout,
	})

	srv := server.New(cfg)

	// Register Routes
	srv.App.Use(tokens.Middleware())
	deliveryHdl.Register(srv.App)
	srv.App.Get("/ws/delivery/:id", realtimeHdl.RequireUpgrade, realtimeHdl.Subscribe())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			l.Fatal("Server failed to start", zap.Error(err))
		}
	case <-ctx.Done():
		if err := srv.Shutdown(10 * time.Second); err != nil {
			l.Error("Server shutdown failed", zap.Error(err))
		}
	}
}
