package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pairchat/config"
	"pairchat/internal/blob"
	"pairchat/internal/chat"
	"pairchat/internal/handler"
	"pairchat/internal/middleware"
	"pairchat/internal/store"
	"pairchat/internal/websocket"
	"pairchat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(log)
	defer func() { _ = log.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, err := openStore(cfg)
	if err != nil {
		log.Errorf("document store init failed: %v", err)
		return
	}
	defer func() { _ = docs.Close() }()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		log.Errorf("blob store init failed: %v", err)
		return
	}

	uploader := chat.NewUploader(blobs, cfg.UploadMaxBytes, log)
	service := chat.NewService(docs, uploader, log)

	hub := websocket.NewHub()
	go hub.Run(ctx)
	wsHandler := websocket.NewHandler(hub, service, log)

	if cfg.AppMode == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", wsHandler.Serve)

	convHandler := handler.NewConversationHandler(service)
	msgHandler := handler.NewMessageHandler(service)
	uploadHandler := handler.NewUploadHandler(service)

	api := r.Group("/api/v1")
	api.Use(middleware.IdentityMiddleware())
	{
		api.POST("/conversations/direct", convHandler.GetOrCreate)
		api.GET("/conversations", convHandler.List)
		api.GET("/conversations/:id", convHandler.GetByID)
		api.POST("/conversations/:id/read", convHandler.MarkRead)
		api.POST("/conversations/:id/typing", convHandler.Typing)
		api.POST("/conversations/:id/archive", convHandler.Archive)
		api.POST("/conversations/:id/unarchive", convHandler.Unarchive)

		api.GET("/conversations/:id/messages", msgHandler.List)
		api.POST("/conversations/:id/messages", msgHandler.Send)
		api.DELETE("/conversations/:id/messages/:message_id", msgHandler.Delete)

		api.POST("/uploads", uploadHandler.Upload)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.AppPort),
		Handler: r,
	}

	go func() {
		log.Infof("starting server on port %s (store=%s blobs=%s)", cfg.AppPort, cfg.StoreBackend, cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return store.NewRedis(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	case "pebble":
		return store.OpenPebble(cfg.PebblePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3Client(ctx, blob.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
	case "memory":
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
