package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/pkg/models"
)

// SQS configuration constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes
	RetryBackoffPeriod   = 5 * time.Second
)

// Worker polls the transcode queue and hands jobs to the processor.
type Worker struct {
	sqsClient         *sqs.Client
	queueURL          string
	processor         *Processor
	maxConcurrentJobs int
	log               *slog.Logger
}

// WorkerConfig holds worker dependencies.
type WorkerConfig struct {
	SQSClient         *sqs.Client
	QueueURL          string
	Processor         *Processor
	MaxConcurrentJobs int
	Logger            *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(cfg *WorkerConfig) *Worker {
	return &Worker{
		sqsClient:         cfg.SQSClient,
		queueURL:          cfg.QueueURL,
		processor:         cfg.Processor,
		maxConcurrentJobs: cfg.MaxConcurrentJobs,
		log:               cfg.Logger,
	}
}

// Run starts the worker and blocks until the context is cancelled.
// In-flight jobs drain before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "Starting queue polling",
		"queueURL", w.queueURL,
		"maxConcurrent", w.maxConcurrentJobs,
	)

	sem := make(chan struct{}, w.maxConcurrentJobs)
	var wg sync.WaitGroup

messageLoop:
	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "Waiting for in-progress jobs to complete...")
			wg.Wait()
			w.log.InfoContext(ctx, "All jobs completed, shutting down")
			return
		default:
		}

		result, err := w.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   SQSVisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue // Shutting down
			}
			w.log.ErrorContext(ctx, "Failed to receive messages", "error", err)
			time.Sleep(RetryBackoffPeriod)
			continue
		}

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func(msg types.Message) {
					defer wg.Done()
					defer func() { <-sem }()

					metrics.ActiveJobs.Inc()
					defer metrics.ActiveJobs.Dec()

					if err := w.processMessage(ctx, msg); err != nil {
						w.log.ErrorContext(ctx, "Failed to process message",
							"error", err,
							"messageId", safeStringDeref(msg.MessageId),
						)
						metrics.RecordFailure()
					} else {
						_, delErr := w.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
							QueueUrl:      aws.String(w.queueURL),
							ReceiptHandle: msg.ReceiptHandle,
						})
						if delErr != nil {
							w.log.ErrorContext(ctx, "Failed to delete message", "error", delErr)
						}
						metrics.RecordSuccess()
					}
				}(msg)
			case <-ctx.Done():
				w.log.InfoContext(ctx, "Context cancelled, stopping message processing")
				break messageLoop
			}
		}
	}

	wg.Wait()
}

func safeStringDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (w *Worker) processMessage(ctx context.Context, msg types.Message) error {
	ctx, span := tracer.Start(ctx, "process-message")
	defer span.End()

	if msg.Body == nil {
		return fmt.Errorf("%w: empty message body", models.ErrJobParseFailed)
	}

	var job models.TranscodeJob
	if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
		return fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	span.SetAttributes(
		attribute.String("asset.id", job.AssetID),
		attribute.String("asset.source_key", job.SourceKey),
	)

	return w.processor.Process(ctx, &job)
}
