package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamvault/streamvault/internal/api"
	"github.com/streamvault/streamvault/internal/auth"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/devices"
	"github.com/streamvault/streamvault/internal/health"
	"github.com/streamvault/streamvault/internal/keys"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/pipeline"
	"github.com/streamvault/streamvault/internal/playback"
	"github.com/streamvault/streamvault/internal/storage"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
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
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "vault-api", cfg)
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
	queue := pipeline.NewSQSQueue(sqsClient, cfg.AWS.SQSQueueURL)

	// Initialize repositories
	assetRepo := storage.NewAssetRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	encryptionRepo := storage.NewEncryptionRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	signedURLRepo := storage.NewSignedURLRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	deviceRepo := storage.NewDeviceRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	directoryRepo := storage.NewDirectoryRepository(dynamoClient, cfg.AWS.DynamoDBTable)

	// Initialize JWT service
	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret)
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	// Initialize rate limiter
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig())

	// Initialize playback services
	playbackSecret, err := cfg.GetPlaybackTokenSecret()
	if err != nil {
		log.Error("Failed to get playback token secret", "error", err)
		os.Exit(1)
	}
	minter := playback.NewTokenMinter(string(playbackSecret))

	tracker := devices.NewTracker(deviceRepo, log)

	authorizer := playback.NewAuthorizer(&playback.AuthorizerConfig{
		Lessons:       directoryRepo,
		Enrollments:   directoryRepo,
		Assets:        assetRepo,
		Devices:       tracker,
		Tokens:        signedURLRepo,
		Minter:        minter,
		StreamBaseURL: cfg.Playback.StreamBaseURL,
		TokenTTL:      cfg.Playback.TokenTTL,
		DeviceLimit:   cfg.Playback.DeviceLimit,
		Logger:        log,
	})

	keyService := playback.NewKeyService(signedURLRepo, encryptionRepo, minter, log)
	rotator := keys.NewRotator(encryptionRepo, assetRepo, queue, log)

	// Initialize health checker
	healthConfig := health.DefaultConfig("vault-api", log)
	healthConfig.S3Client = s3Client
	healthConfig.SQSClient = sqsClient
	healthConfig.DynamoDBClient = dynamoClient
	healthConfig.S3Bucket = cfg.AWS.RawBucket
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthConfig.DynamoDBTable = cfg.AWS.DynamoDBTable
	healthChecker := health.NewChecker(healthConfig)

	handlers := api.NewHandlers(&api.HandlersConfig{
		Config:     cfg,
		Logger:     log,
		Objects:    s3Client,
		Queue:      queue,
		Assets:     assetRepo,
		JWTService: jwtService,
		Authorizer: authorizer,
		KeyService: keyService,
		Tracker:    tracker,
		Rotator:    rotator,
	})

	// Create and start server
	server, err := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      handlers,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: healthChecker,
	})
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Sweep expired signed URL records in the background
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := playback.NewSweeper(signedURLRepo, cfg.Playback.SweepInterval, log)
	go sweeper.Run(sweepCtx)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	stopSweeper()
	ctx, cancel = context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
