// Package pipeline contains the transcode job queue, the processor that
// turns a source upload into encrypted HLS output, and the SQS worker
// loop that drives it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/streamvault/streamvault/pkg/models"
)

// NewSQSClient creates an SQS client with OTel instrumentation.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return sqs.NewFromConfig(cfg), nil
}

// SQSQueue enqueues transcode jobs onto the processing queue.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue creates an SQSQueue.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
	}
}

// Enqueue validates and sends a transcode job.
func (q *SQSQueue) Enqueue(ctx context.Context, job *models.TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal transcode job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send transcode job: %w", err)
	}

	return nil
}
