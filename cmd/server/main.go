package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/audit"
	"github.com/scriptfleet/fleet-server-go/internal/config"
	"github.com/scriptfleet/fleet-server-go/internal/database"
	"github.com/scriptfleet/fleet-server-go/internal/handler"
	"github.com/scriptfleet/fleet-server-go/internal/jobs"
	"github.com/scriptfleet/fleet-server-go/internal/middleware"
	"github.com/scriptfleet/fleet-server-go/internal/redis"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
	"github.com/scriptfleet/fleet-server-go/internal/service"
	"github.com/scriptfleet/fleet-server-go/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	reg := registry.New(cfg.HeartbeatTimeout(), cfg.HeartbeatCheckInterval())
	defer reg.Close()

	auditor := audit.NewLogger()

	accountRepo := repository.NewAccountRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)
	templateRepo := repository.NewTemplateRepository(db.DB)
	commandRepo := repository.NewCommandRepository(db.DB)
	logRepo := repository.NewDeviceLogRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	walletRepo := repository.NewWalletRepository(db.DB)
	topupRepo := repository.NewTopupRepository(db.DB)
	assetRepo := repository.NewAssetRepository(db.DB)

	deviceService := service.NewDeviceService(deviceRepo, reg, auditor)
	logService := service.NewLogService(logRepo)
	commandService := service.NewCommandService(commandRepo, jobRepo, reg)
	walletService := service.NewWalletService(walletRepo)
	assetService := service.NewAssetService(assetRepo, cfg.AssetDir, cfg.AssetMaxBytes, cfg.APIPrefix)
	templateService := service.NewTemplateService(templateRepo, reg, assetService)
	jobService := service.NewJobService(
		db, jobRepo, commandRepo, deviceRepo, walletRepo,
		templateService, walletService, reg,
	)
	topupService := service.NewTopupService(topupRepo, walletService)
	accountService := service.NewAccountService(accountRepo)

	wsHandler := ws.NewHandler(accountRepo, deviceService, commandService, logService, reg)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo, auditor)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)

	customerHandler := handler.NewCustomerHandler(
		deviceService, templateService, jobService, walletService, topupService, assetService, reg,
	)
	adminHandler := handler.NewAdminHandler(
		accountService, deviceService, commandService, jobService, topupService, logService, auditor,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"timestamp":      time.Now().UnixMilli(),
			"online_devices": reg.OnlineCount(),
		})
	})

	// Websocket endpoints sit outside the request timeout: connections are
	// long-lived by design.
	r.Get("/ws", wsHandler.ServeDevice)
	r.Get("/ws/web", wsHandler.ServeWeb)

	r.Route(cfg.APIPrefix+"/customer", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", customerHandler.Routes())
	})

	r.Route(cfg.APIPrefix+"/admin", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(authMiddleware.Handler)
		r.Use(authMiddleware.RequireAdmin)
		r.Mount("/", adminHandler.Routes())
	})

	retentionJob := jobs.NewRetentionJob(logRepo, commandRepo, config.RetentionJobInterval)
	retentionJob.Start()
	defer retentionJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
