// Command worker runs the persona and feedback queue consumers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/persona-feedback/internal/adapter/ai"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/lock"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/persona-feedback/internal/config"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
	"github.com/fairyhunter13/persona-feedback/internal/usecase"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	personaRepo := postgres.NewPersonaRepo(pool)
	productRepo := postgres.NewProductRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	resultRepo := postgres.NewResultRepo(pool)

	gateway := ai.New(cfg)
	finalizer := usecase.NewInsightsService(
		sessionRepo, resultRepo, gateway, lock.New(rdb), cfg.LockWait, cfg.LockLease)

	personaConsumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     "persona-feedback-persona-workers",
		Topic:       redpanda.TopicPersona,
		Concurrency: cfg.WorkerConcurrency,
		Prefetch:    cfg.WorkerPrefetch,
		MaxAttempts: cfg.QueueMaxAttempts,
		MaxWallTime: cfg.MessageMaxWallTime,
	}, redpanda.NewPersonaHandler(personaRepo, gateway))
	if err != nil {
		slog.Error("persona consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = personaConsumer.Close() }()

	feedbackConsumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     "persona-feedback-feedback-workers",
		Topic:       redpanda.TopicFeedback,
		Concurrency: cfg.WorkerConcurrency,
		Prefetch:    cfg.WorkerPrefetch,
		MaxAttempts: cfg.QueueMaxAttempts,
		MaxWallTime: cfg.MessageMaxWallTime,
	}, redpanda.NewFeedbackHandler(resultRepo, sessionRepo, personaRepo, productRepo, gateway, finalizer))
	if err != nil {
		slog.Error("feedback consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = feedbackConsumer.Close() }()

	slog.Info("worker starting", slog.String("env", cfg.AppEnv))

	var wg sync.WaitGroup
	for _, c := range []*redpanda.Consumer{personaConsumer, feedbackConsumer} {
		wg.Add(1)
		go func(c *redpanda.Consumer) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("consumer stopped with error", slog.Any("error", err))
			}
		}(c)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")
	wg.Wait()
	slog.Info("worker stopped")
}
