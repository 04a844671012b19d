package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	"github.com/campusbridge/alumni-connect/internal/config"
	"github.com/campusbridge/alumni-connect/internal/database"
	"github.com/campusbridge/alumni-connect/internal/handlers"
	"github.com/campusbridge/alumni-connect/internal/middleware"
	"github.com/campusbridge/alumni-connect/internal/migrations"
	"github.com/campusbridge/alumni-connect/internal/routes"
	"github.com/campusbridge/alumni-connect/internal/services"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Env)

	logger.Info().Str("environment", cfg.Env).Msg("Starting Alumni Connect chat backend...")

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	if err := database.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("Database unavailable")
	}
	database.InitRedis(ctx)

	logger.Info().Msg("Running database migrations...")
	if err := migrations.NewMigrator(database.DB, database.Models()...).Run(); err != nil {
		logger.Fatal().Err(err).Msg("Database migration failed")
	}
	logger.Info().Msg("Database migrations complete")

	// 2. Chat core
	users := services.NewUserDirectory(database.DB)
	chat := services.NewConversationService(database.DB, users)
	chat.SetMaxMessageLength(cfg.MaxMessageLength)
	auth := services.NewTokenAuthenticator(users)

	hub := broker.New(chat, auth, broker.Options{
		TypingThrottle: cfg.TypingThrottle,
		Limiter:        database.NewRateLimiter(database.Redis, "chat_send", cfg.ChatSendLimit, cfg.ChatSendWindow),
		Metrics:        broker.NewMetrics(prometheus.DefaultRegisterer),
	})
	users.SetPresence(hub.Presence())

	// 3. Transports
	rt := handlers.RealtimeOptions{
		PingInterval:   cfg.SocketPingInterval,
		AllowedOrigins: []string{cfg.FrontendURL, "http://localhost:5173"},
	}
	socketServer := handlers.NewSocketServer(hub, rt)
	go socketServer.Serve()
	wsServer := handlers.NewWSServer(hub, rt)

	go middleware.GeneralLimiter.Cleanup(ctx)
	go middleware.ChatLimiter.Cleanup(ctx)

	r := routes.NewRouter(routes.Deps{
		Chat:        handlers.NewChatHandler(chat, users, hub),
		Auth:        auth,
		Socket:      socketServer,
		WS:          wsServer,
		Health:      handlers.Health,
		Metrics:     promhttp.Handler(),
		FrontendURL: cfg.FrontendURL,
	})

	// 4. Start Server with graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: long-poll and websocket responses outlive any request deadline
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsServer.Close()
	if err := socketServer.Close(); err != nil {
		logger.Warn().Err(err).Msg("socket.io close failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if database.Redis != nil {
		_ = database.Redis.Close()
	}

	logger.Info().Msg("Server exited gracefully")
}
