// Package main provides the entrypoint for the PulseFit lifecycle API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/api"
	"github.com/pulsefit/pulsefit/internal/api/middleware"
	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/auth"
	"github.com/pulsefit/pulsefit/internal/database"
	"github.com/pulsefit/pulsefit/internal/deletion"
	"github.com/pulsefit/pulsefit/internal/export"
	"github.com/pulsefit/pulsefit/internal/queue"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/storage"
	"github.com/pulsefit/pulsefit/internal/stream"
	"github.com/pulsefit/pulsefit/internal/telemetry"
	"github.com/pulsefit/pulsefit/internal/userdata"
	"github.com/pulsefit/pulsefit/internal/validation"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pulsefit-lifecycle-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting PulseFit lifecycle API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Initialize auth service (access tokens are minted by the identity
	// provider; this service only validates them)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	authService := auth.NewService(auth.Config{
		SigningKey: jwtSigningKey,
		Issuer:     "https://id.pulsefit.app",
		Audience:   "pulsefit-api",
	})

	// Connect to object storage for export artifacts
	bucket := os.Getenv("GCS_BUCKET")
	if bucket == "" {
		log.Fatal().Msg("GCS_BUCKET must be set")
	}
	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create storage client")
	}
	defer gcsClient.Close()
	objects := storage.NewGCSStore(gcsClient, bucket)

	// Connect to Pub/Sub for stream publishing and dead-letter recovery
	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID must be set")
	}
	pubsubClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	defer pubsubClient.Close()

	liveTopic := envOrDefault("STREAM_TOPIC", "session-events")
	dlqSubscription := envOrDefault("DLQ_SUBSCRIPTION", "session-events-dlq-sub")

	livePublisher := queue.NewPubSubPublisher(pubsubClient, liveTopic)
	dlqPuller := queue.NewPubSubPuller(pubsubClient, dlqSubscription)

	// Wire the lifecycle services
	auditor := audit.NewPostgresRecorder(pool)
	limiter := ratelimit.NewPostgresLimiter(pool, ratelimit.DefaultWindows())
	users := userdata.NewPostgresStore(pool)
	jobs := scheduler.NewPostgresStore(pool)

	exportService := export.NewService(
		export.NewPostgresRepository(pool),
		limiter,
		export.NewCollector(users),
		objects,
		jobs,
		auditor,
		log,
	)
	log.Info().Msg("export service initialized")

	certificateKey := os.Getenv("CERTIFICATE_SIGNING_KEY")
	if certificateKey == "" {
		certificateKey = jwtSigningKey
		log.Warn().Msg("CERTIFICATE_SIGNING_KEY not set, falling back to JWT signing key")
	}
	deletionService := deletion.NewService(
		deletion.NewPostgresRepository(pool),
		limiter,
		users,
		analytics.NewPostgresStore(pool),
		jobs,
		deletion.NewCertificateSigner([]byte(certificateKey), "https://api.pulsefit.app"),
		auditor,
		log,
	)
	log.Info().Msg("deletion service initialized")

	recoverer := stream.NewRecoverer(dlqPuller, livePublisher, auditor, log)

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		Pool:            pool,
		AuthService:     authService,
		ExportService:   exportService,
		DeletionService: deletionService,
		Recoverer:       recoverer,
		Validate:        validation.New(),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
