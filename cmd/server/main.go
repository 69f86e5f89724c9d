package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/handler"
	"github.com/club-ranklist/internal/kafka"
	"github.com/club-ranklist/internal/metrics"
	"github.com/club-ranklist/internal/postgres"
	"github.com/club-ranklist/internal/redis"
	"github.com/club-ranklist/internal/service"
	"github.com/club-ranklist/internal/websocket"
	"github.com/club-ranklist/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if path, ok := config.LookupEnvFile(); ok {
		if err := godotenv.Load(path); err != nil {
			bootLogger.Warn("failed to load env file", "path", path, "error", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// The ranking cache is optional; without Redis every read goes to PostgreSQL.
	var cache service.RankingCache
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rankingCache, err := redis.NewRankingCache(&cfg.Redis, cfg.Ranking.CacheTTL, logger)
	if err != nil {
		logger.Warn("failed to connect to Redis, continuing without ranking cache", "error", err)
	} else {
		defer rankingCache.Close()
		cache = rankingCache
		logger.Info("connected to Redis")
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	rankListService := service.NewRankListService(repo, cache, wsHub, m, logger)
	ingestService := service.NewIngestService(repo, cache, wsHub, m, logger)

	recomputeWorker := worker.NewRecomputeWorker(rankListService, &cfg.Recompute, logger)
	if cfg.Recompute.Enabled {
		// Bring stored scores up to date before serving.
		recomputeWorker.RunOnce(ctx)
		if err := recomputeWorker.Start(ctx); err != nil {
			logger.Error("failed to start recompute worker", "error", err)
			os.Exit(1)
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ingestService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(rankListService, ingestService, wsHub, m, cfg.Server.UserHeader, logger)
	httpHandler.AddReadinessCheck("postgres", repo)
	if rankingCache != nil {
		httpHandler.AddReadinessCheck("redis", rankingCache)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := recomputeWorker.Stop(); err != nil {
		logger.Error("failed to stop recompute worker", "error", err)
	}

	logger.Info("server stopped")
}
