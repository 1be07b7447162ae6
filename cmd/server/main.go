package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-service/internal/adapters/kafka"
	"collab-service/internal/api/handlers"
	"collab-service/internal/api/routes"
	"collab-service/internal/auth"
	"collab-service/internal/collab"
	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/repository"
	"collab-service/internal/services"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("Starting collaboration server")

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(db)
	verifier := auth.NewTokenVerifier(cfg.JWT.Secret, userRepo)

	// Presence mirror worker
	mirror := services.NewPresenceMirror(redisClient)
	mirror.Start()

	// Activity journal is optional; without Kafka the realtime path runs
	// on its own.
	var journal *kafka.Journal
	var activity collab.ActivityRecorder
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		journal = kafka.NewJournal(producer, cfg.Kafka.Topic)
		journal.Start()
		activity = journal
		slog.Info("Activity journal enabled", "topic", cfg.Kafka.Topic)
	}

	// Initialize collaboration hub
	metrics := collab.NewMetrics(prometheus.DefaultRegisterer)
	hub := collab.NewHub(mirror, activity, metrics, slog.Default())
	go hub.Run()

	upgrader := collab.NewUpgrader(cfg.Server.AllowedOrigins)
	wsHandler := handlers.NewWSHandler(hub, verifier, upgrader)
	roomHandler := handlers.NewRoomHandler(hub.Registry(), mirror)

	router := routes.NewRouter(cfg, wsHandler, roomHandler, mirror)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()
	mirror.Stop()
	if journal != nil {
		journal.Stop()
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
