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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"int20h/internal/catalog"
	"int20h/internal/platform/config"
	"int20h/internal/platform/httpserver"
	"int20h/internal/platform/kafka"
	"int20h/internal/platform/logger"
	platformmetrics "int20h/internal/platform/metrics"
	"int20h/internal/platform/postgres"
	"int20h/internal/platform/redis"
	"int20h/internal/ratelimit"
	"int20h/internal/registration/guard"
	"int20h/internal/registration/handler"
	regmetrics "int20h/internal/registration/metrics"
	"int20h/internal/registration/outbox"
	"int20h/internal/registration/service"
	"int20h/internal/registration/store"
	"int20h/internal/registration/validation"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies, serves HTTP and runs the outbox relay until a
// shutdown signal arrives.
func main() {
	config.LoadDotEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := postgres.Migrate(db, log); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, catalog cache disabled and rate limits are per process")
	}

	skills, err := catalog.LoadSkills()
	if err != nil {
		return err
	}
	mode, err := validation.ParseMode(cfg.Registration.ValidationMode)
	if err != nil {
		return err
	}

	httpMetrics := platformmetrics.New()
	regMetrics := regmetrics.New()

	pgStore := store.NewPostgres(db)
	txRunner := store.NewPostgresTx(db, pgStore, cfg.Registration.TxTimeout)

	svc, err := service.New(txRunner, pgStore,
		service.WithValidator(validation.New(
			validation.WithMode(mode),
			validation.WithSkillCatalog(skills),
		)),
		service.WithGuard(guard.New(
			guard.WithPreCheck(cfg.Registration.DuplicatePreCheck),
			guard.WithMetrics(regMetrics),
		)),
		service.WithLogger(log),
		service.WithMetrics(regMetrics),
	)
	if err != nil {
		return err
	}

	var (
		limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
		catalogOpts                  = []catalog.Option{catalog.WithLogger(log)}
		checks                       = []healthCheck{{name: "database", check: func(ctx context.Context) error {
			return postgres.Health(ctx, db)
		}}}
	)
	if redisClient != nil {
		limiterStore = ratelimit.NewRedisStore(redisClient)
		catalogOpts = append(catalogOpts, catalog.WithCache(catalog.NewRedisCache(redisClient), cfg.Redis.CatalogTTL))
		checks = append(checks, healthCheck{name: "redis", check: redisClient.Health})
	}
	limiter := ratelimit.New(limiterStore, cfg.RateLimit.Submissions, cfg.RateLimit.Window,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithLogger(log),
	)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handler.New(svc, log, httpMetrics, handler.WithRateLimit(limiter.Submissions)).Register(r)
	catalog.NewHandler(catalog.NewService(pgStore, skills, catalogOpts...), log, httpMetrics).Register(r)
	r.Get("/health", healthHandler(log, checks...))
	r.Handle("/metrics", promhttp.Handler())

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled() {
		kafkaClient, err := kafka.NewClient(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			return err
		}
		defer kafkaClient.Close()
		if err := startRelay(ctx, g, cfg.Kafka, kafkaClient, pgStore, txRunner, log, regMetrics); err != nil {
			return err
		}
	} else {
		log.Warn("kafka not configured, outbox events will accumulate until a relay runs")
	}

	srv := httpserver.New(cfg.Addr, r)
	g.Go(func() error {
		log.Info("starting int20h registration server", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func startRelay(ctx context.Context, g *errgroup.Group, cfg config.KafkaConfig, client *kgo.Client, st *store.PostgresStore, tx *store.PostgresTx, log *slog.Logger, m *regmetrics.Metrics) error {
	if err := kafka.Ping(ctx, client); err != nil {
		return err
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Topic, -1, -1); err != nil {
		return err
	}
	relay, err := outbox.NewRelay(st, tx, outbox.NewKafkaPublisher(client, cfg.Topic),
		outbox.WithInterval(cfg.PollInterval),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithCircuitBreaker(outbox.NewCircuitBreaker(5, 30*time.Second)),
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	g.Go(func() error {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return nil
}
