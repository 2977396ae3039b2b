package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/azizikri/offer-feed/internal/catalog"
	"github.com/azizikri/offer-feed/internal/config"
	httphandler "github.com/azizikri/offer-feed/internal/delivery/http"
	"github.com/azizikri/offer-feed/internal/delivery/kafka"
	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/feed"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/repository"
	"github.com/azizikri/offer-feed/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := initDB(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	store := repository.New(pool)
	hub := notify.NewHub[domain.ChangeEvent](logger)

	var publisher usecase.ChangePublisher
	var producerClient *kgo.Client
	var consumerClient *kgo.Client
	wg := sync.WaitGroup{}

	if cfg.EventDriven() {
		producerClient, err = kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers()...),
			kgo.ClientID(cfg.KafkaClientID),
		)
		if err != nil {
			logger.Error("failed to create kafka producer", slog.Any("error", err))
			os.Exit(1)
		}

		if err := kafka.EnsureTopics(ctx, producerClient, cfg, logger); err != nil {
			logger.Warn("failed to ensure topics", slog.Any("error", err))
		}

		consumerClient, err = newConsumerClient(cfg)
		if err != nil {
			logger.Error("failed to create kafka consumer", slog.Any("error", err))
			os.Exit(1)
		}

		publisher = kafka.NewPublisher(producerClient, cfg.KafkaChangeTopic)

		consumer := kafka.NewConsumer(consumerClient, hub, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
		<-consumer.Ready()
	} else {
		publisher = kafka.NewDirectPublisher(hub)
	}

	backend := usecase.NewBackendService(store, publisher, hub, logger)

	repo := catalog.NewRepository(backend, logger)
	repo.Load(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		repo.Run(ctx, cfg.CatalogRefreshInterval())
	}()

	sessions := feed.NewSessionManager(repo, backend, backend, feed.Options{
		SearchQuiet:   cfg.SearchDebounce(),
		FlashPageSize: cfg.FlashPageSize(),
	}, logger)

	handler := httphandler.NewHandler(sessions, repo)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler.Routes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting server", slog.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("error", err))
	}

	sessions.Close()

	if consumerClient != nil {
		consumerClient.Close()
	}
	if producerClient != nil {
		producerClient.Close()
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// newConsumerClient joins an instance-scoped group starting at the log end:
// sessions load their state on sign-in, so older changes are not needed.
func newConsumerClient(cfg *config.Config) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers()...),
		kgo.ClientID(cfg.KafkaClientID+"-consumer"),
		kgo.ConsumerGroup(cfg.ConsumerGroupID()),
		kgo.ConsumeTopics(cfg.KafkaChangeTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	)
}
