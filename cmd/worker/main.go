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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/health"
	"github.com/streamvault/streamvault/internal/keys"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/pipeline"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/transcoder"
)

const (
	AWSConfigTimeout      = 10 * time.Second
	ShutdownTimeout       = 5 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

func main() {
	// Initialize logger
	log := observability.NewLogger()
	slog.SetDefault(log)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "vault-worker", cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Initialize AWS clients
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	dynamoClient, err := storage.NewDynamoClient(ctx, cfg)
	if err != nil {
		log.Error("Failed to create DynamoDB client", "error", err)
		os.Exit(1)
	}

	s3Client, err := storage.NewS3Client(ctx, cfg.AWS.Region)
	if err != nil {
		log.Error("Failed to create S3 client", "error", err)
		os.Exit(1)
	}

	sqsClient, err := pipeline.NewSQSClient(ctx, cfg.AWS.Region)
	if err != nil {
		log.Error("Failed to create SQS client", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	assetRepo := storage.NewAssetRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	encryptionRepo := storage.NewEncryptionRepository(dynamoClient, cfg.AWS.DynamoDBTable)

	// Key material stays in the scratch workspace; it must never land in
	// the packaged bucket next to the segments it protects.
	skipNames := []string{keys.KeyFileName, keys.KeyInfoFileName}
	blobStore := storage.NewS3Store(s3Client.Client, cfg.AWS.PackagedBucket, skipNames, log)

	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0755); err != nil {
		log.Error("Failed to create scratch directory", "path", cfg.Worker.ScratchDir, "error", err)
		os.Exit(1)
	}

	encoder := transcoder.NewFFmpegEncoder(transcoder.DefaultFFmpegConfig(log))

	processor := pipeline.NewProcessor(&pipeline.ProcessorConfig{
		Assets:             assetRepo,
		Encryptions:        encryptionRepo,
		Source:             s3Client,
		Blob:               blobStore,
		Encoder:            encoder,
		Presets:            transcoder.DefaultPresets,
		ScratchDir:         cfg.Worker.ScratchDir,
		KeyDeliveryBaseURL: cfg.Playback.KeyDeliveryBaseURL,
		Logger:             log,
	})

	worker := pipeline.NewWorker(&pipeline.WorkerConfig{
		SQSClient:         sqsClient,
		QueueURL:          cfg.AWS.SQSQueueURL,
		Processor:         processor,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		Logger:            log,
	})

	// Initialize health checker
	healthConfig := health.DefaultConfig("vault-worker", log)
	healthConfig.S3Client = s3Client
	healthConfig.SQSClient = sqsClient
	healthConfig.DynamoDBClient = dynamoClient
	healthConfig.S3Bucket = cfg.AWS.RawBucket
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthConfig.DynamoDBTable = cfg.AWS.DynamoDBTable
	healthChecker := health.NewChecker(healthConfig)

	// Start metrics server
	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, healthChecker, log)

	// Graceful shutdown
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down worker...")
		stop()
	}()

	// Poll until cancelled; in-flight jobs drain before Run returns
	worker.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown metrics server", "error", err)
	}

	log.Info("Worker shutdown complete")
}

func startMetricsServer(port int, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	return server
}
