package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sundayezeilo/linkservice/codegen"
	"github.com/sundayezeilo/linkservice/internal/cleanup"
	"github.com/sundayezeilo/linkservice/internal/config"
	"github.com/sundayezeilo/linkservice/internal/database"
	"github.com/sundayezeilo/linkservice/internal/logging"
	"github.com/sundayezeilo/linkservice/internal/metrics"
	"github.com/sundayezeilo/linkservice/internal/publisher"
	"github.com/sundayezeilo/linkservice/internal/server"
	"github.com/sundayezeilo/linkservice/internal/shortener"
)

// App holds the application dependencies and configuration.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBPool    *pgxpool.Pool
	Publisher *publisher.KafkaPublisher
	Cleanup   *cleanup.Job
	Server    *server.Server
	Service   shortener.Service
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"service", cfg.Observability.ServiceName,
		"version", cfg.Observability.ServiceVersion,
	)

	if cfg.Database.RunMigrations {
		if err := database.Migrate(cfg.Database.MigrationURL(), logger); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	dbPool, err := database.Connect(ctx, database.PoolConfig{
		ConnString: cfg.Database.ConnectionString(),
		MaxConns:   cfg.Database.MaxConns,
		MinConns:   cfg.Database.MinConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	pub := publisher.New(publisher.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		Source:       cfg.Kafka.Source,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		BatchSize:    cfg.Kafka.BatchSize,
		Logger:       logger.With("component", "publisher"),
		Metrics:      m,
	})

	svc := NewService(ServiceDeps{
		Pool:      dbPool,
		Publisher: pub,
		Metrics:   m,
		Logger:    logger,
		Link:      cfg.Link,
		BaseURL:   cfg.Server.BaseURL,
	})

	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
	})

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DBPool:    dbPool,
		Publisher: pub,
		Service:   svc,
	}

	if cfg.Cleanup.Enabled {
		a.Cleanup, err = cleanup.New(svc, cleanup.Config{
			Schedule:  cfg.Cleanup.Schedule,
			Retention: cfg.Cleanup.Retention,
			Logger:    logger,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create cleanup job: %w", err), a.Shutdown())
		}
	}

	a.Server = server.New(cfg, logger, handler, registry)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"kafka_topic", cfg.Kafka.Topic,
		"cleanup_enabled", cfg.Cleanup.Enabled,
	)

	return a, nil
}

// ServiceDeps are the collaborators NewService wires together.
type ServiceDeps struct {
	Pool      *pgxpool.Pool
	Publisher shortener.EventPublisher
	Metrics   shortener.Metrics
	Logger    *slog.Logger
	Link      config.LinkConfig
	BaseURL   string
}

// NewService builds the link service on top of a pgx pool.
func NewService(deps ServiceDeps) shortener.Service {
	repoCfg := &shortener.RepositoryConfig{DefaultTTL: deps.Link.DefaultTTL}

	var reserved *shortener.ReservedWords
	if len(deps.Link.ReservedWords) > 0 {
		reserved = shortener.NewReservedWords(deps.Link.ReservedWords)
	}

	return shortener.NewService(shortener.ServiceConfig{
		Repository:    shortener.NewRepository(deps.Pool, repoCfg),
		Transactor:    shortener.NewTransactor(deps.Pool, repoCfg),
		Publisher:     deps.Publisher,
		CodeGenerator: codegen.New(deps.Link.CodeLength),
		ReservedWords: reserved,
		Metrics:       deps.Metrics,
		Logger:        deps.Logger,
		BaseURL:       deps.BaseURL,
		StoreTimeout:  deps.Link.StoreTimeout,
	})
}

// Start starts the cleanup schedule and the HTTP server, blocking until the
// server stops.
func (a *App) Start(ctx context.Context) error {
	if a.Cleanup != nil {
		a.Cleanup.Start(ctx)
	}

	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases resources in reverse dependency order: no new cleanup
// runs, queued events flushed, then the pool closed. It is safe on a
// partially built App.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.Cleanup != nil {
		a.Cleanup.Stop()
	}

	if a.Publisher != nil {
		if err := a.Publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		} else {
			a.Logger.Info("event publisher closed")
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	return errors.Join(errs...)
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}
