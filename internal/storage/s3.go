package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("streamvault/storage")

// Default timeout for individual S3 control operations.
const DefaultS3Timeout = 30 * time.Second

// S3Client wraps the AWS S3 client with the operations this service needs.
type S3Client struct {
	*s3.Client
}

// NewS3Client creates an S3 client with OTel instrumentation.
func NewS3Client(ctx context.Context, region string) (*S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &S3Client{s3.NewFromConfig(cfg)}, nil
}

// GeneratePresignedURL creates a presigned PUT URL so clients upload
// source video straight to the raw bucket.
func (c *S3Client) GeneratePresignedURL(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	presignClient := s3.NewPresignClient(c.Client)

	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = lifetime
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign request: %w", err)
	}

	return req.URL, nil
}

// HeadObject returns the size of an object, confirming the upload landed.
func (c *S3Client) HeadObject(ctx context.Context, bucket, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	result, err := c.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	if result.ContentLength == nil {
		return 0, nil
	}
	return *result.ContentLength, nil
}

// DownloadToFile streams an object into a local file and returns the
// byte count.
func (c *S3Client) DownloadToFile(ctx context.Context, bucket, key, destPath string) (int64, error) {
	ctx, span := tracer.Start(ctx, "download-source")
	defer span.End()

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	result, err := c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	written, err := io.Copy(out, result.Body)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to close destination file: %w", err)
	}

	span.SetAttributes(attribute.Int64("object.size_bytes", written))
	return written, nil
}

// contentTypeFor maps an output file to its HLS content type.
func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}
