package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/librarydesk/circulation/internal/auth"
	"github.com/librarydesk/circulation/internal/config"
	"github.com/librarydesk/circulation/internal/database"
	"github.com/librarydesk/circulation/internal/handlers"
	"github.com/librarydesk/circulation/internal/logging"
	"github.com/librarydesk/circulation/internal/repositories"
	"github.com/librarydesk/circulation/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Info("database schema is up to date")
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("failed to close database")
		}
	}()

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	reportRepo, err := repositories.NewReportRepository(db)
	if err != nil {
		log.Fatalf("failed to build report repository: %v", err)
	}

	clock := services.SystemClock()
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	libraryService := services.NewLibraryService(db, clock, log, userRepo, bookRepo, loanRepo, holdRepo, fineRepo)
	catalogService := services.NewCatalogService(db, log, bookRepo, loanRepo, holdRepo)
	userService := services.NewUserService(db, log, auth.NewBcryptHasher(), tokens, userRepo)
	reportService := services.NewReportService(clock, log, reportRepo)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log), handlers.CORS(cfg.AllowedOrigins()))

	handlers.RegisterRoutes(router, handlers.Deps{
		Library:      libraryService,
		Catalog:      catalogService,
		Users:        userService,
		Reports:      reportService,
		Tokens:       tokens,
		LoginLimiter: handlers.NewRateLimiter(cfg.Auth.LoginRatePerSecond, cfg.Auth.LoginRateBurst, log),
		Health:       func(ctx context.Context) error { return database.Ping(ctx, db) },
		Log:          log,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Infof("Starting server on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(srv, log)
}

func waitForShutdown(srv *http.Server, log *logrus.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
