package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collaborative-doc-sync/internal/auth"
	"collaborative-doc-sync/internal/config"
	"collaborative-doc-sync/internal/db"
	"collaborative-doc-sync/internal/document"
	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/hub"
	"collaborative-doc-sync/internal/logger"
	"collaborative-doc-sync/internal/middleware"
	"collaborative-doc-sync/internal/presence"
	"collaborative-doc-sync/internal/protocol"
	"collaborative-doc-sync/internal/telemetry"
	"collaborative-doc-sync/internal/user"
	"collaborative-doc-sync/internal/worker"
	"collaborative-doc-sync/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Environment, cfg.LogLevel)
	auth.Init(cfg.JWTSecret)

	shutdownTracer, err := telemetry.InitJaeger("collab-sync", cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	// Connect to database
	if err := db.ConnectDb(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect db")
	}
	defer db.CloseDb()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate")
	}

	// Seed database with initial data (for development)
	if cfg.Environment == "development" {
		db.SeedData(context.Background())
	}

	redisClient := redis.InitRedis(context.Background())
	defer redis.CloseRedis()
	cache := redis.NewCache(redisClient)

	pool := worker.NewWorkerPool(cfg.WorkerPoolSize)

	// Initialize repository
	userRepo := user.NewRepository(db.AppDb)
	docRepo := document.NewRepository(db.AppDb)

	// Realtime sync
	eng := engine.New[json.RawMessage](docRepo)
	syncHub := hub.New(eng, presence.NewTable(), hub.Config{
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	})

	// Initialize service
	userService := user.NewService(userRepo)
	docService := document.NewService(docRepo, syncHub, cache, pool, cfg.CacheTTL)
	syncHub.SetCommitHook(func(snap protocol.Snapshot) {
		docService.InvalidateMembers(snap.DocumentID)
	})

	// Initialize handler
	userHandler := user.NewHandler(userService)
	docHandler := document.NewHandler(docService)
	wsHandler := hub.NewWSHandler(syncHub, hub.NewUpgrader(cfg.AllowedOrigins))
	authMiddleware := &middleware.Auth{
		UserService:    userService,
		InternalSecret: cfg.InternalSecret,
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.Environment == "development" {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": syncHub.RoomCount()})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/register", userHandler.Register)
		api.POST("/auth/login", userHandler.Login)
		api.POST("/auth/refresh", userHandler.RefreshToken)

		protected := api.Group("", authMiddleware.AuthMiddleWare())
		protected.POST("/auth/logout", userHandler.Logout)
		protected.GET("/auth/me", userHandler.GetProfile)
		protected.GET("/users/search", userHandler.SearchUsers)

		protected.POST("/documents", docHandler.Create)
		protected.GET("/documents", docHandler.ShowUserDocuments)
		protected.GET("/documents/:id", docHandler.ShowDocument)
		protected.PUT("/documents/:id", docHandler.Save)
		protected.PATCH("/documents/:id", docHandler.Rename)
		protected.GET("/documents/:id/collaborators", docHandler.ShowCollaborators)
		protected.GET("/documents/:id/presence", docHandler.ShowPresence)
	}

	router.GET("/ws", authMiddleware.AuthMiddleWare(), wsHandler.ServeWS)

	// internal use routes
	internal := router.Group("/internal", authMiddleware.InternalAuthMiddleware())
	internal.GET("/documents/:id/state", docHandler.ShowDocumentState)
	internal.GET("/documents/:id/role", docHandler.ShowUserRole)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := syncHub.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("hub shutdown error")
	}
	pool.Shutdown()
	if err := shutdownTracer(ctx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown error")
	}

	log.Info().Int64("failed_tasks", pool.Failed()).Msg("server shutdown complete")
}
