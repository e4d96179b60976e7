package main

import (
	"context"
	"fmt"
	"log"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/database"
	"github.com/AbdelrhmanX7/memorly-server/handlers"
	"github.com/AbdelrhmanX7/memorly-server/logger"
	"github.com/AbdelrhmanX7/memorly-server/middleware"
	"github.com/AbdelrhmanX7/memorly-server/models"
	"github.com/AbdelrhmanX7/memorly-server/repositories"
	"github.com/AbdelrhmanX7/memorly-server/services"
	"github.com/AbdelrhmanX7/memorly-server/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("starting memorly upload service")

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if err := database.InitMySQL(&cfg.Database); err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}

	database.DB.AutoMigrate(
		&models.User{},
		&models.UploadSession{},
		&models.UploadPart{},
		&models.MediaFile{},
	)
	log.Println("database migration completed")

	if err := database.InitRedis(&cfg.Redis); err != nil {
		log.Fatalf("init redis failed: %v", err)
	}

	ctx := context.Background()
	store, err := storage.NewS3Store(ctx, &cfg.S3)
	if err != nil {
		log.Fatalf("init object store failed: %v", err)
	}

	repoContainer := repositories.NewGormRepositories(database.DB, database.RedisClient).BuildContainer()
	serviceContainer := services.NewContainer(repoContainer, store)
	handlers.SetServices(serviceContainer)

	go serviceContainer.Cleanup.Run(ctx)

	r := gin.Default()
	r.Use(middleware.RequestLogger())
	setupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
}

func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	if config.AppConfig.Health.Enabled {
		api.GET(config.AppConfig.Health.Endpoint, handlers.HealthCheck)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.POST("/uploads/initiate", handlers.InitiateUpload)
		protected.POST("/uploads/chunk", handlers.UploadChunk)
		protected.POST("/uploads/complete", handlers.CompleteUpload)
		protected.POST("/uploads/abort", handlers.AbortUpload)
		protected.GET("/uploads/status/:upload_id", handlers.GetUploadStatus)
	}
}
