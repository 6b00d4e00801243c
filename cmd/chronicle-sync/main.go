package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaign-session/internal/config"
	"campaign-session/internal/infrastructure/chronicle"
	"campaign-session/internal/infrastructure/mysql"
	"campaign-session/internal/infrastructure/redis"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"
	"campaign-session/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
)

func main() {
	log := logger.New()
	log.Info("Starting chronicle sync worker")

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

	changePublisher := redis.NewChangePublisher(rdb)
	campaignStore := mysql.NewMySQLCampaignStore(db, changePublisher, log)
	chronicleCache := redis.NewChronicleCache(rdb)
	chronicleSource := chronicle.NewHTTPSource(cfg.Chronicle.SourceURL)

	syncService := services.NewChronicleSyncService(
		campaignStore, chronicleSource, chronicleCache, changePublisher,
		cfg.Chronicle.PollInterval, log)

	if err := syncService.Start(context.Background()); err != nil {
		log.Error("Failed to start chronicle sync", "error", err)
		os.Exit(1)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down chronicle sync worker...")

	if err := syncService.Stop(); err != nil {
		log.Error("Failed to stop chronicle sync", "error", err)
	}

	log.Info("Chronicle sync worker stopped")
}
