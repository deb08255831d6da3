// Package main provides the entrypoint for the PulseFit lifecycle worker.
// The worker runs the scheduled-job runner, the analytics stream consumer,
// the daily aggregation, and the periodic dead-letter sweep.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/audit"
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
	"github.com/pulsefit/pulsefit/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pulsefit-lifecycle-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting PulseFit lifecycle worker")

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

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

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Connect to object storage
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

	// Connect to Pub/Sub
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
	liveSubscription := envOrDefault("STREAM_SUBSCRIPTION", "session-events-sub")
	dlqTopic := envOrDefault("DLQ_TOPIC", "session-events-dlq")
	dlqSubscription := envOrDefault("DLQ_SUBSCRIPTION", "session-events-dlq-sub")

	livePublisher := queue.NewPubSubPublisher(pubsubClient, liveTopic)
	liveReceiver := queue.NewPubSubReceiver(pubsubClient, liveSubscription, 10)
	dlqPublisher := queue.NewPubSubPublisher(pubsubClient, dlqTopic)
	dlqPuller := queue.NewPubSubPuller(pubsubClient, dlqSubscription)

	// Wire the lifecycle services the job handlers need
	auditor := audit.NewPostgresRecorder(pool)
	limiter := ratelimit.NewPostgresLimiter(pool, ratelimit.DefaultWindows())
	users := userdata.NewPostgresStore(pool)
	jobs := scheduler.NewPostgresStore(pool)
	stats := analytics.NewPostgresStore(pool)

	exportService := export.NewService(
		export.NewPostgresRepository(pool),
		limiter,
		export.NewCollector(users),
		objects,
		jobs,
		auditor,
		log,
	)

	certificateKey := os.Getenv("CERTIFICATE_SIGNING_KEY")
	if certificateKey == "" {
		certificateKey = envOrDefault("JWT_SIGNING_KEY", "local-dev-signing-key-change-in-production")
		log.Warn().Msg("CERTIFICATE_SIGNING_KEY not set, falling back to JWT signing key")
	}
	deletionService := deletion.NewService(
		deletion.NewPostgresRepository(pool),
		limiter,
		users,
		stats,
		jobs,
		deletion.NewCertificateSigner([]byte(certificateKey), "https://api.pulsefit.app"),
		auditor,
		log,
	)

	runner := scheduler.NewRunner(jobs, log)
	runner.Register(export.JobKind, exportService.HandleJob)
	runner.Register(deletion.JobKind, deletionService.HandleJob)

	relay := stream.NewRelay(users, stream.NewPublisher(livePublisher, dlqPublisher, log), log)
	consumer := stream.NewConsumer(liveReceiver, livePublisher, dlqPublisher, stats, log)
	aggregator := analytics.NewAggregator(stats, log)
	recoverer := stream.NewRecoverer(dlqPuller, livePublisher, auditor, log)

	w := worker.New(worker.DefaultConfig(), runner, relay, consumer, aggregator, recoverer, log)

	// Health endpoint for the container platform
	healthPort := envOrDefault("HEALTH_PORT", "8081")
	healthServer := &http.Server{
		Addr:         ":" + healthPort,
		Handler:      healthHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Run until interrupted
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("worker running")
	if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	return mux
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
