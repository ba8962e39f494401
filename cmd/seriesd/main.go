// Package main provides the seriesd data-series storage service.
//
// seriesd manages typed data-series schemas and ingests datapoints into
// pluggable storage backends, addressing everything by caller-assigned
// external ids.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/seriesd-io/seriesd/internal/api"
	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/auth"
	"github.com/seriesd-io/seriesd/internal/config"
	"github.com/seriesd-io/seriesd/internal/events"
	"github.com/seriesd-io/seriesd/internal/ingest"
	"github.com/seriesd-io/seriesd/internal/series"
	"github.com/seriesd-io/seriesd/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "seriesd"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	// Optional YAML config file; environment variables take precedence
	if err := config.LoadFileFromEnv(); err != nil {
		log.Printf("failed to load config file: %v\n", err)
		os.Exit(1)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting seriesd service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Rate limiter (graceful shutdown handled by server.shutdown())
	rateLimitConfig := middleware.LoadRateLimitConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(rateLimitConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", rateLimitConfig.GlobalRPS),
		slog.Int("user_rps", rateLimitConfig.UserRPS),
		slog.Int("unauth_rps", rateLimitConfig.UnAuthRPS),
	)

	storageConfig := storage.LoadConfig()
	factory := storage.NewFactory()

	var (
		metaStore series.MetaStore
		conn      *storage.Connection
	)

	if storageConfig.HasDatabase() {
		var err error

		conn, err = storage.NewConnection(storageConfig)
		if err != nil {
			logger.Error("Failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		persistentStore, err := storage.NewPersistentMetaStore(conn)
		if err != nil {
			logger.Error("Failed to initialize metadata store", slog.String("error", err.Error()))

			_ = conn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		sqlBackend, err := storage.NewSQLBackend(conn)
		if err != nil {
			logger.Error("Failed to initialize SQL backend", slog.String("error", err.Error()))

			_ = conn.Close()
			os.Exit(1)
		}

		metaStore = persistentStore
		factory.Register(series.BackendDynamicSQLNoHistory, sqlBackend)

		logger.Info("PostgreSQL storage initialized",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
			slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
			slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
			slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
		)
	} else {
		metaStore = storage.NewMemoryMetaStore()

		logger.Warn("No database configured - falling back to in-memory metadata store",
			slog.String("note", "Set SERIESD_DATABASE_URL to enable persistent storage"),
		)
	}

	// The memory backend is always registered so MEMORY_NO_HISTORY series
	// work in every deployment
	factory.Register(series.BackendMemoryNoHistory, storage.NewMemoryBackend())

	var blobs storage.BlobStore

	if storageConfig.BlobPath != "" {
		badgerStore, err := storage.NewBadgerBlobStore(storageConfig.BlobPath)
		if err != nil {
			logger.Error("Failed to open blob store",
				slog.String("path", storageConfig.BlobPath),
				slog.String("error", err.Error()),
			)

			if conn != nil {
				_ = conn.Close()
			}

			os.Exit(1)
		}

		blobs = badgerStore

		logger.Info("Badger blob store initialized", slog.String("path", storageConfig.BlobPath))
	} else {
		blobs = storage.NewMemoryBlobStore()

		logger.Warn("No blob path configured - file payloads are held in memory",
			slog.String("note", "Set SERIESD_BLOB_PATH to enable durable blob storage"),
		)
	}

	var publisher events.Publisher = events.NopPublisher{}

	kafkaConfig := events.LoadKafkaConfig()
	if kafkaConfig.Enabled() {
		publisher = events.NewKafkaPublisher(kafkaConfig)

		logger.Info("Kafka event publisher initialized",
			slog.String("topic", kafkaConfig.Topic),
		)
	} else {
		logger.Info("Kafka not configured - lifecycle events disabled")
	}

	users, err := auth.NewUserStoreFromEnv()
	if err != nil {
		logger.Error("Failed to initialize user store", slog.String("error", err.Error()))

		if conn != nil {
			_ = conn.Close()
		}

		os.Exit(1)
	}

	tokens := auth.NewTokenStore()
	registry := series.NewRegistry(metaStore, factory)
	pipeline := ingest.NewPipeline(blobs, factory, publisher, logger)

	server := api.NewServer(serverConfig, &api.Dependencies{
		Registry:    registry,
		Pipeline:    pipeline,
		Blobs:       blobs,
		Users:       users,
		Tokens:      tokens,
		Publisher:   publisher,
		RateLimiter: rateLimiter,
		Conn:        conn,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("seriesd service stopped")
}
