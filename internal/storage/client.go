// Package storage provides DynamoDB repositories and blob stores for
// the content-protection engine. All records share a single table with
// composite keys; GSI1 serves lesson lookups and the expiry sweep.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/streamvault/streamvault/internal/config"
)

// Key prefixes and sort keys for the single-table layout.
const (
	assetPrefix  = "ASSET#"
	lessonPrefix = "LESSON#"
	tokenPrefix  = "TOKEN#"
	userPrefix   = "USER#"

	skMetadata   = "METADATA"
	skAsset      = "ASSET"
	skEncryption = "ENCRYPTION"
	skInfo       = "INFO"

	qualityPrefix    = "QUALITY#"
	devicePrefix     = "DEVICE#"
	enrollmentPrefix = "ENROLLMENT#"

	// GSI1 partition for all signed URL rows, sorted by expiry.
	gsiTokens = "TOKENS"
)

// DynamoAPI is the subset of the DynamoDB client the repositories use.
// Repositories take the interface so tests can substitute an in-memory
// table.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewDynamoClient creates a DynamoDB client with OTel instrumentation.
func NewDynamoClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	if cfg.AWS.DynamoDBTable == "" {
		return nil, errors.New("DynamoDB table name is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	return dynamodb.NewFromConfig(awsCfg), nil
}

func assetPK(assetID string) string   { return assetPrefix + assetID }
func lessonPK(lessonID string) string { return lessonPrefix + lessonID }
func tokenPK(token string) string     { return tokenPrefix + token }
func userPK(userID string) string     { return userPrefix + userID }

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
