// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/auth"
	"github.com/seriesd-io/seriesd/internal/events"
	"github.com/seriesd-io/seriesd/internal/ingest"
	"github.com/seriesd-io/seriesd/internal/series"
	"github.com/seriesd-io/seriesd/internal/storage"
)

type (
	// Dependencies bundles the runtime collaborators the server needs.
	//
	// Configuration (what) lives in ServerConfig; Dependencies is the how.
	// Optional fields may be nil: a nil RateLimiter disables rate limiting,
	// a nil Conn means the service runs on in-memory stores.
	Dependencies struct {
		Registry    *series.Registry
		Pipeline    *ingest.Pipeline
		Blobs       storage.BlobStore
		Users       *auth.UserStore
		Tokens      *auth.TokenStore
		Publisher   events.Publisher
		RateLimiter middleware.RateLimiter
		Conn        *storage.Connection
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		registry    *series.Registry
		pipeline    *ingest.Pipeline
		blobs       storage.BlobStore
		users       *auth.UserStore
		tokens      *auth.TokenStore
		publisher   events.Publisher
		rateLimiter middleware.RateLimiter
		conn        *storage.Connection
	}
)

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	// Create structured logger with configured log level
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// Create base HTTP mux
	mux := http.NewServeMux()

	// Create server instance for route setup
	server := &Server{
		logger:      logger,
		config:      cfg,
		registry:    deps.Registry,
		pipeline:    deps.Pipeline,
		blobs:       deps.Blobs,
		users:       deps.Users,
		tokens:      deps.Tokens,
		publisher:   deps.Publisher,
		rateLimiter: deps.RateLimiter,
		conn:        deps.Conn,
	}

	// Set up all API routes
	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Apply middleware chain using functional options pattern.
	// Middleware executes in the order listed (top-to-bottom):
	//   1. RequestID - generate request ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - resolve bearer token to its user (public endpoints bypass)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthToken(deps.Tokens, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Set the httpServer field for the existing server instance
	server.httpServer = httpServer

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("Starting seriesd API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server and releases its resources.
func (s *Server) shutdown() error {
	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	// Attempt graceful shutdown of HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeResource("event publisher", s.publisher)
	s.closeResource("blob store", s.blobs)
	s.closeResource("rate limiter", s.rateLimiter)

	// Close the database connection last, stores may flush through it
	if s.conn != nil {
		s.closeResource("database connection", s.conn)
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

// closeResource closes a dependency if it implements io.Closer.
func (s *Server) closeResource(name string, resource any) {
	if resource == nil {
		return
	}

	closer, ok := resource.(io.Closer)
	if !ok {
		return
	}

	s.logger.Info("Closing "+name, slog.String("resource", name))

	if err := closer.Close(); err != nil {
		s.logger.Error("Failed to close "+name,
			slog.String("resource", name),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Info("Closed "+name+" successfully", slog.String("resource", name))
}
