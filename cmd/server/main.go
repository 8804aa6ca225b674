package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-backend/config"
	"shop-backend/internal/api"
	"shop-backend/internal/broker"
	"shop-backend/internal/gateway"
	"shop-backend/internal/redisclient"
	"shop-backend/internal/service"
	"shop-backend/internal/store"
	"shop-backend/internal/util"
	"shop-backend/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shop backend")

	tp, err := util.InitTracer("shop-backend", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	mpClient := gateway.NewClient(
		cfg.Gateway.BaseURL,
		cfg.Gateway.AccessToken,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second,
	)

	pricing := service.Pricing{
		Currency:              cfg.Business.Currency,
		ShippingFlatFee:       cfg.Business.ShippingFlatFee,
		FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
		GuestCheckoutTTL:      time.Duration(cfg.Business.GuestCheckoutTTLHours) * time.Hour,
	}
	checkoutService := service.NewCheckoutService(db, db, db, redisClient, eventPublisher, pricing)

	cartService := service.NewCartService(db, db)

	paymentService := service.NewPaymentService(
		mpClient, db, db, db, redisClient, checkoutService,
		service.PreferenceSettings{
			Currency:            cfg.Business.Currency,
			SuccessURL:          cfg.Gateway.SuccessURL,
			FailureURL:          cfg.Gateway.FailureURL,
			PendingURL:          cfg.Gateway.PendingURL,
			WebhookURL:          cfg.Gateway.WebhookURL,
			StatementDescriptor: cfg.Gateway.StatementDescriptor,
			Installments:        12,
		},
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(db, cartService, checkoutService, paymentService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
