// Command server starts the persona-feedback HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/persona-feedback/internal/adapter/cache"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/httpserver"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/persona-feedback/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/persona-feedback/internal/app"
	"github.com/fairyhunter13/persona-feedback/internal/config"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
	"github.com/fairyhunter13/persona-feedback/internal/usecase"
)

// redisPinger adapts *redis.Client to the readiness probe interface.
type redisPinger struct{ rdb *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.rdb.Ping(ctx) }

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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	if err := postgres.Migrate("file://migrations", cfg.DBURL); err != nil {
		slog.Error("migrations failed", slog.Any("error", err))
		os.Exit(1)
	}
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

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	userRepo := postgres.NewUserRepo(pool)
	productRepo := postgres.NewProductRepo(pool)
	personaRepo := postgres.NewPersonaRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	resultRepo := postgres.NewResultRepo(pool)

	dbCheck, redisCheck, kafkaCheck := app.BuildReadinessChecks(pool, redisPinger{rdb: rdb}, producer)

	srv := &httpserver.Server{
		Auth:     usecase.NewAuthService(userRepo),
		Products: usecase.NewProductService(productRepo),
		Personas: usecase.NewPersonaService(personaRepo, producer, cfg.AIModel),
		Feedback: usecase.NewFeedbackService(
			sessionRepo, resultRepo, productRepo, personaRepo,
			producer, cache.New(rdb), cfg.IdempotencyTTL),
		Tokens:     httpserver.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
		KafkaCheck: kafkaCheck,
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
