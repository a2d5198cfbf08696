package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"bison/internal/api"
	"bison/internal/config"
	"bison/internal/db"
	"bison/internal/mailer"
	"bison/internal/services"
	"bison/internal/utils/logger"
	"bison/internal/workers"
)

func main() {
	mainLog := logger.New("bison")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		mainLog.Info("No .env file found, skipping environment variable loading")
	} else {
		mainLog.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// Connect to database
	if err := db.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			mainLog.Error("Failed to close database connection", err)
		}
	}()

	dbInstance := db.GetDB()

	// Mail transport
	sender := mailer.NewSMTPSender(cfg.SMTP)

	// Enrollment tracker
	enrollments := services.NewEnrollmentService(dbInstance, services.SystemClock())
	emails := services.NewEmailService(dbInstance, sender, cfg.SMTP.From)

	// Leader lock keeps a single dispatching instance when running more
	// than one replica. Optional: enabled when Redis is configured.
	var lock *workers.LeaderLock
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock = workers.NewLeaderLock(redisClient, "bison:dispatch:leader", 2*cfg.Worker.PollInterval)
		mainLog.Info("Redis leader lock enabled")
	}

	// Sequence dispatcher
	dispatcher := workers.NewDispatcher(enrollments, emails, sender, services.SystemClock(), lock, workers.DispatcherConfig{
		Concurrency:    cfg.Worker.Concurrency,
		MaxSendRetries: cfg.Worker.MaxSendRetries,
	})

	// Inbox sync (disabled without an IMAP host)
	inbox := workers.NewInboxSync(cfg.IMAP, emails)

	// Periodic jobs
	scheduler := workers.NewScheduler(cfg, dispatcher, inbox)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// API server
	apiServer := api.NewServer(cfg, dbInstance, emails, enrollments)
	go func() {
		mainLog.Success("API server starting on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := apiServer.Start(); err != nil {
			mainLog.Error("API server error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()

	// Hand the dispatch lock to the next instance instead of waiting out
	// its TTL.
	if lock != nil {
		if err := lock.Release(ctx); err != nil {
			mainLog.Error("Failed to release dispatch lock", err)
		}
	}

	if err := apiServer.Shutdown(ctx); err != nil {
		mainLog.Error("Failed to shutdown API server", err)
	}

	mainLog.Info("Server shutdown gracefully")
}
