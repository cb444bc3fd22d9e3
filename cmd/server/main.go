// Package main runs the team collaboration HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teamloop/backend/config"
	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/auth"
	"github.com/teamloop/backend/internal/channels"
	"github.com/teamloop/backend/internal/linkpreview"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/notify"
	"github.com/teamloop/backend/internal/projects"
	"github.com/teamloop/backend/internal/realtime"
	"github.com/teamloop/backend/internal/teams"
	"github.com/teamloop/backend/pkg/database"
	"github.com/teamloop/backend/pkg/queue"
	"github.com/teamloop/backend/pkg/redis"
	"github.com/teamloop/backend/pkg/response"
	"github.com/teamloop/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.AttachmentsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AttachmentsBucket:    cfg.AWS.AttachmentsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(logger)
	engine := access.NewEngine(access.NewPgStore(pool))
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notify.NewNotifier(hub, jobQueue, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Teams
	teamRepo := teams.NewRepository(pool)
	teamHandler := teams.NewHandler(teamRepo, authRepo, notifier, logger)

	// Projects
	projectRepo := projects.NewRepository(pool)
	projectHandler := projects.NewHandler(projectRepo, engine, notifier, logger)

	// Link previews (best-effort, off the send path)
	previewRepo := linkpreview.NewRepository(pool)
	var previewSvc *linkpreview.Service
	if cfg.LinkPreview.Enabled {
		previewSvc = linkpreview.NewService(previewRepo,
			time.Duration(cfg.LinkPreview.TimeoutSeconds)*time.Second,
			cfg.LinkPreview.MaxBodyBytes, logger)
	}

	// Channels and messages
	channelRepo := channels.NewRepository(pool)
	messageHook := func(teamID uuid.UUID, msg *models.Message) {
		if previewSvc != nil {
			go previewSvc.Capture(msg)
		}
		notifier.MessageCreated(teamID, msg.ChannelID, msg.UserID, msg.Content)
	}
	channelSvc := channels.NewService(channelRepo, engine, hub, messageHook, logger)
	if s3Client != nil {
		channelSvc.SetObjectStore(s3Client)
	}
	channelHandler := channels.NewHandler(channelSvc, previewRepo, hub, s3Client, logger)

	authenticate := auth.TokenAuthenticator(jwtService, authRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Teams
		api.GET("/teams", teamHandler.ListMine)
		api.POST("/teams", teamHandler.Create)

		team := api.Group("/teams/:teamId")
		member := team.Group("", teams.RequireMembership(engine))
		manage := team.Group("", teams.RequireRole(engine, models.TeamRoleOwner, models.TeamRoleAdmin))
		owner := team.Group("", teams.RequireRole(engine, models.TeamRoleOwner))
		{
			member.GET("", teamHandler.Get)
			member.GET("/members", teamHandler.ListMembers)
			manage.POST("/members", teamHandler.AddMember)
			owner.PATCH("/members/:userId", teamHandler.SetMemberRole)
			// Removal allows self-leave; the handler enforces roles beyond that.
			member.DELETE("/members/:userId", teamHandler.RemoveMember)

			// Projects
			member.GET("/projects", projectHandler.ListByTeam)
			manage.POST("/projects", projectHandler.Create)
			member.GET("/projects/:projectId", projectHandler.Get)
			member.PATCH("/projects/:projectId/status", projectHandler.UpdateStatus)
			member.GET("/projects/:projectId/members", projectHandler.ListMembers)
			member.POST("/projects/:projectId/members", projectHandler.AddMember)
			member.DELETE("/projects/:projectId/members/:userId", projectHandler.RemoveMember)
		}

		// Channels authorize inside the service so not-found and access-denied
		// stay indistinguishable; no team middleware on these routes.
		team.GET("/channels", channelHandler.List)
		team.POST("/channels", channelHandler.Create)
		team.DELETE("/channels/:channelId", channelHandler.Delete)
		team.GET("/channels/:channelId/messages", channelHandler.GetMessages)
		team.POST("/channels/:channelId/messages", channelHandler.CreateMessage)
		team.GET("/channels/:channelId/messages/search", channelHandler.Search)
		team.GET("/channels/:channelId/links", channelHandler.ListLinks)
		team.GET("/channels/:channelId/presence", channelHandler.GetPresence)
		team.GET("/channels/:channelId/attachments/download-url", channelHandler.AttachmentURL)
	}

	// WebSocket (token via header, query, or cookie; authenticated in ServeWs)
	router.GET("/ws", realtime.ServeWs(hub, channelSvc, channelSvc, authenticate, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	hub.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
