package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamvault/streamvault/pkg/models"
)

// EncryptionRepository handles encryption records in DynamoDB. At most
// one row exists per asset; rotation overwrites it in place.
type EncryptionRepository struct {
	client    DynamoAPI
	tableName string
}

// NewEncryptionRepository creates an EncryptionRepository from an existing client.
func NewEncryptionRepository(client DynamoAPI, tableName string) *EncryptionRepository {
	return &EncryptionRepository{
		client:    client,
		tableName: tableName,
	}
}

// PutEncryption writes the encryption record for an asset.
func (r *EncryptionRepository) PutEncryption(ctx context.Context, enc *models.VideoEncryption) error {
	enc.PK = assetPK(enc.AssetID)
	enc.SK = skEncryption
	if enc.CreatedAt == "" {
		enc.CreatedAt = nowRFC3339()
	}

	item, err := attributevalue.MarshalMap(enc)
	if err != nil {
		return fmt.Errorf("failed to marshal encryption record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put encryption record: %w", err)
	}

	return nil
}

// GetEncryption retrieves the current encryption record for an asset.
// Returns models.ErrEncryptionNotConfigured when absent.
func (r *EncryptionRepository) GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
			"sk": &types.AttributeValueMemberS{Value: skEncryption},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption record: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrEncryptionNotConfigured
	}

	var enc models.VideoEncryption
	if err := attributevalue.UnmarshalMap(result.Item, &enc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal encryption record: %w", err)
	}

	return &enc, nil
}

// UpdateEncryption overwrites the encryption record. The write is
// conditional on the row existing: rotation never creates a record for
// an asset that was never encoded.
func (r *EncryptionRepository) UpdateEncryption(ctx context.Context, enc *models.VideoEncryption) error {
	enc.PK = assetPK(enc.AssetID)
	enc.SK = skEncryption

	item, err := attributevalue.MarshalMap(enc)
	if err != nil {
		return fmt.Errorf("failed to marshal encryption record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		return fmt.Errorf("failed to update encryption record: %w", err)
	}

	return nil
}
