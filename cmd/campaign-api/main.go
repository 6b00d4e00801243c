package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaign-session/internal/config"
	"campaign-session/internal/domain"
	"campaign-session/internal/infrastructure/chronicle"
	"campaign-session/internal/infrastructure/mysql"
	"campaign-session/internal/infrastructure/redis"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"
	"campaign-session/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CampaignHandler struct {
	store     domain.CampaignStore
	chronicle domain.ChronicleAdapter
	publisher domain.EventPublisher
	log       logger.Logger
}

type CreateCampaignRequest struct {
	Name           string `json:"name"`
	DMUserID       string `json:"dmUserId"`
	DMDisplayName  string `json:"dmDisplayName"`
	StoryChannelID string `json:"storyChannelId,omitempty"`
}

func NewCampaignHandler(store domain.CampaignStore, chron domain.ChronicleAdapter,
	publisher domain.EventPublisher, log logger.Logger) *CampaignHandler {
	return &CampaignHandler{
		store:     store,
		chronicle: chron,
		publisher: publisher,
		log:       log,
	}
}

func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if req.Name == "" || req.DMUserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name and dmUserId are required"})
	}

	campaign := &domain.Campaign{
		ID:   utils.GenerateID("campaign"),
		Name: req.Name,
		Members: []domain.Member{{
			UserID:      req.DMUserID,
			DisplayName: req.DMDisplayName,
			Role:        domain.RoleDM,
		}},
		Inventories: make(map[string][]domain.InventoryEntry),
		Story:       domain.StoryConfig{ChannelID: req.StoryChannelID, Title: req.Name},
	}

	if err := h.store.Persist(c.Request().Context(), campaign, domain.PersistOptions{
		Reason: "campaign created",
	}); err != nil {
		h.log.Error("Failed to create campaign", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create campaign"})
	}

	h.log.Info("Campaign created", "campaign_id", campaign.ID)
	return c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	campaignID := c.Param("id")

	campaign, err := h.store.GetCampaign(c.Request().Context(), campaignID)
	if errors.Is(err, domain.ErrCampaignNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Campaign not found"})
	}
	if err != nil {
		h.log.Error("Failed to load campaign", "campaign_id", campaignID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load campaign"})
	}

	return c.JSON(http.StatusOK, campaign)
}

func (h *CampaignHandler) DeleteCampaign(c echo.Context) error {
	campaignID := c.Param("id")

	err := h.store.DeleteCampaign(c.Request().Context(), campaignID)
	if errors.Is(err, domain.ErrCampaignNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Campaign not found"})
	}
	if err != nil {
		h.log.Error("Failed to delete campaign", "campaign_id", campaignID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete campaign"})
	}

	return c.NoContent(http.StatusNoContent)
}

// ForceStorySync fetches the external narrative log now and asks the realtime
// service for an immediate story push.
func (h *CampaignHandler) ForceStorySync(c echo.Context) error {
	campaignID := c.Param("id")
	ctx := c.Request().Context()

	if err := h.chronicle.ForceSync(ctx, campaignID); err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Campaign not found"})
		}
		h.log.Error("Force sync failed", "campaign_id", campaignID, "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	if err := h.publisher.PublishChange(ctx, &domain.ChangeEvent{
		Type:       domain.ChangeStorySync,
		CampaignID: campaignID,
		Immediate:  true,
		Timestamp:  time.Now(),
	}); err != nil {
		h.log.Error("Failed to publish story sync", "campaign_id", campaignID, "error", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Story sync triggered"})
}

func main() {
	log := logger.New()
	log.Info("Starting campaign API service")

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
	chronicleSvc := services.NewChronicleSyncService(
		campaignStore, chronicleSource, chronicleCache, changePublisher,
		cfg.Chronicle.PollInterval, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Initialize handlers
	campaignHandler := NewCampaignHandler(campaignStore, chronicleSvc, changePublisher, log)

	// API routes
	api := e.Group("/api/v1")
	api.POST("/campaigns", campaignHandler.CreateCampaign)
	api.GET("/campaigns/:id", campaignHandler.GetCampaign)
	api.DELETE("/campaigns/:id", campaignHandler.DeleteCampaign)
	api.POST("/campaigns/:id/story/sync", campaignHandler.ForceStorySync)

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "campaign-api",
			"timestamp": time.Now().Format(time.RFC3339),
			"port":      cfg.API.Port,
		})
	})

	// Start server
	serverAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	log.Info("Starting campaign API server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down campaign API service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Campaign API service stopped")
}
