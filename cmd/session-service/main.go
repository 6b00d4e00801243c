package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaign-session/internal/api/middleware"
	"campaign-session/internal/config"
	"campaign-session/internal/infrastructure/chronicle"
	"campaign-session/internal/infrastructure/mysql"
	"campaign-session/internal/infrastructure/redis"
	"campaign-session/internal/infrastructure/websocket"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"
	"campaign-session/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
)

func main() {
	log := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db := utils.InitializeMysql(cfg, log, ctx)
	defer db.Close()
	log.Info("Connected to MySQL")

	// Initialize store and bus
	changePublisher := redis.NewChangePublisher(rdb)
	changeSubscriber := redis.NewChangeSubscriber(rdb, log)
	campaignStore := mysql.NewMySQLCampaignStore(db, changePublisher, log)

	// Chronicle adapter: reads the redis cache, force-syncs against the source
	chronicleCache := redis.NewChronicleCache(rdb)
	chronicleSource := chronicle.NewHTTPSource(cfg.Chronicle.SourceURL)
	chronicleSvc := services.NewChronicleSyncService(
		campaignStore, chronicleSource, chronicleCache, changePublisher,
		cfg.Chronicle.PollInterval, log)

	narrative := chronicle.NewWebhookDispatcher(cfg.Chronicle.WebhookURL)

	// Initialize realtime state
	connManager := websocket.NewConnectionManager(log)
	registry := services.NewRegistry(
		connManager, campaignStore, chronicleSvc, narrative,
		services.OptionsFromConfig(cfg.Realtime), log)

	// Bridge the change bus into socket pushes
	eventListener := services.NewEventListener(registry, campaignStore, connManager, log)
	go func() {
		if err := eventListener.Start(context.Background(), changeSubscriber); err != nil && err != context.Canceled {
			log.Error("Change-event listener stopped", "error", err)
		}
	}()

	// Initialize handlers
	wsHandler := websocket.NewWebSocketHandler(registry, connManager, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(middleware.CORS)

	router.HandleFunc("/ws", wsHandler.HandleConnection)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting session service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down session service...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Clear all realtime state and timers
	registry.Shutdown()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Session service stopped")
}
