package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamvault/streamvault/pkg/models"
)

// SignedURLRepository handles playback token records. Rows are keyed by
// the token itself; GSI1 collects every row under one partition sorted
// by expiry so the sweeper can delete stale tokens with a range query.
type SignedURLRepository struct {
	client    DynamoAPI
	tableName string
}

// NewSignedURLRepository creates a SignedURLRepository from an existing client.
func NewSignedURLRepository(client DynamoAPI, tableName string) *SignedURLRepository {
	return &SignedURLRepository{
		client:    client,
		tableName: tableName,
	}
}

// PutSignedURL persists a freshly issued token.
func (r *SignedURLRepository) PutSignedURL(ctx context.Context, record *models.SignedURL) error {
	record.PK = tokenPK(record.Token)
	record.SK = skMetadata
	record.GSI1PK = gsiTokens
	record.GSI1SK = record.ExpiresAt
	if record.CreatedAt == "" {
		record.CreatedAt = nowRFC3339()
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal signed URL: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put signed URL: %w", err)
	}

	return nil
}

// GetSignedURL looks up a token record. An absent row means the token
// was never issued or has been swept; both map to an invalid token.
func (r *SignedURLRepository) GetSignedURL(ctx context.Context, token string) (*models.SignedURL, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: tokenPK(token)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signed URL: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrInvalidToken
	}

	var record models.SignedURL
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed URL: %w", err)
	}

	return &record, nil
}

// MarkUsed stamps used_at on first key fetch. The stamp is advisory;
// repeated fetches within the validity window keep the first timestamp.
func (r *SignedURLRepository) MarkUsed(ctx context.Context, token string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: tokenPK(token)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
		UpdateExpression: aws.String("SET used_at = if_not_exists(used_at, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: nowRFC3339()},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		return fmt.Errorf("failed to mark signed URL used: %w", err)
	}

	return nil
}

// DeleteExpired removes token rows whose expiry falls before the cutoff
// and returns how many were deleted.
func (r *SignedURLRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UTC().Format(time.RFC3339)
	deleted := 0

	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String("gsi1"),
			KeyConditionExpression: aws.String("gsi1pk = :pk AND gsi1sk < :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: gsiTokens},
				":cutoff": &types.AttributeValueMemberS{Value: cutoff},
			},
			ProjectionExpression: aws.String("pk, sk"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to query expired signed URLs: %w", err)
		}

		for _, item := range result.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"pk": item["pk"],
					"sk": item["sk"],
				},
			})
			if err != nil {
				return deleted, fmt.Errorf("failed to delete expired signed URL: %w", err)
			}
			deleted++
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return deleted, nil
}
