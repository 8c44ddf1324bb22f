package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamvault/streamvault/pkg/models"
)

// AssetRepository handles video asset records in DynamoDB.
type AssetRepository struct {
	client    DynamoAPI
	tableName string
}

// NewAssetRepository creates an AssetRepository from an existing client.
func NewAssetRepository(client DynamoAPI, tableName string) *AssetRepository {
	return &AssetRepository{
		client:    client,
		tableName: tableName,
	}
}

// lessonAssetPointer enforces the one-asset-per-lesson invariant: the
// pointer item is created with a conditional put, so a second upload
// for the same lesson is rejected rather than queued.
type lessonAssetPointer struct {
	PK      string `dynamodbav:"pk"`
	SK      string `dynamodbav:"sk"`
	AssetID string `dynamodbav:"asset_id"`
}

// CreateAsset creates a pending asset record bound to a lesson.
// Returns models.ErrAssetExists when the lesson already has a live
// asset. A failed asset is replaceable: a fresh upload takes over the
// lesson pointer so the lesson is never wedged behind a dead encode.
// The failed attempt's rows stay in their own partition for diagnosis
// until an operator deletes them.
func (r *AssetRepository) CreateAsset(ctx context.Context, assetID, lessonID, filename, sourceBucket, sourceKey string, fileSizeBytes int64) (*models.VideoAsset, error) {
	now := nowRFC3339()

	pointer := lessonAssetPointer{
		PK:      lessonPK(lessonID),
		SK:      skAsset,
		AssetID: assetID,
	}
	pointerItem, err := attributevalue.MarshalMap(pointer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lesson pointer: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                pointerItem,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return nil, fmt.Errorf("failed to create lesson pointer: %w", err)
		}
		if err := r.claimLessonPointer(ctx, lessonID, pointerItem); err != nil {
			return nil, err
		}
	}

	asset := &models.VideoAsset{
		PK:            assetPK(assetID),
		SK:            skMetadata,
		GSI1PK:        lessonPK(lessonID),
		GSI1SK:        skAsset,
		AssetID:       assetID,
		LessonID:      lessonID,
		Filename:      filename,
		Status:        models.StatusPending,
		SourceBucket:  sourceBucket,
		SourceKey:     sourceKey,
		FileSizeBytes: fileSizeBytes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	item, err := attributevalue.MarshalMap(asset)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal asset: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	return asset, nil
}

// claimLessonPointer takes over an existing lesson pointer when the
// asset it references has failed. The conditional put keys on the old
// asset id so two concurrent re-uploads cannot both claim the slot.
func (r *AssetRepository) claimLessonPointer(ctx context.Context, lessonID string, pointerItem map[string]types.AttributeValue) error {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lessonPK(lessonID)},
			"sk": &types.AttributeValueMemberS{Value: skAsset},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to get lesson pointer: %w", err)
	}
	if result.Item == nil {
		return models.ErrAssetExists
	}

	var pointer lessonAssetPointer
	if err := attributevalue.UnmarshalMap(result.Item, &pointer); err != nil {
		return fmt.Errorf("failed to unmarshal lesson pointer: %w", err)
	}

	existing, err := r.GetAsset(ctx, pointer.AssetID)
	switch {
	case errors.Is(err, models.ErrAssetNotFound):
		// Orphaned pointer; claim it.
	case err != nil:
		return err
	case existing.Status != models.StatusFailed:
		return models.ErrAssetExists
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                pointerItem,
		ConditionExpression: aws.String("asset_id = :prev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: pointer.AssetID},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrAssetExists
		}
		return fmt.Errorf("failed to replace lesson pointer: %w", err)
	}

	return nil
}

// GetAsset retrieves an asset by ID.
func (r *AssetRepository) GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrAssetNotFound
	}

	var asset models.VideoAsset
	if err := attributevalue.UnmarshalMap(result.Item, &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}

	return &asset, nil
}

// GetAssetByLesson resolves the lesson's asset via the pointer item.
func (r *AssetRepository) GetAssetByLesson(ctx context.Context, lessonID string) (*models.VideoAsset, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lessonPK(lessonID)},
			"sk": &types.AttributeValueMemberS{Value: skAsset},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson pointer: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrAssetNotFound
	}

	var pointer lessonAssetPointer
	if err := attributevalue.UnmarshalMap(result.Item, &pointer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lesson pointer: %w", err)
	}

	return r.GetAsset(ctx, pointer.AssetID)
}

// MarkProcessing transitions an asset to processing. The transition is
// recorded before the encoder starts so a crash leaves a diagnosable
// processing row. A fresh job may only enter from pending and a
// re-encode only from completed; a redelivered fresh message can never
// re-open a completed asset and mint a new key under a live manifest.
func (r *AssetRepository) MarkProcessing(ctx context.Context, assetID string, reencode bool) error {
	now := nowRFC3339()

	from := string(models.StatusPending)
	if reencode {
		from = string(models.StatusCompleted)
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at REMOVE error_message"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":from":       &types.AttributeValueMemberS{Value: from},
		},
		ConditionExpression: aws.String("attribute_exists(pk) AND #status = :from"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrInvalidStatus
		}
		return fmt.Errorf("failed to mark asset processing: %w", err)
	}

	return nil
}

// MarkCompleted transitions a processing asset to completed and
// populates the probed duration and resolution.
func (r *AssetRepository) MarkCompleted(ctx context.Context, assetID, outputPrefix, resolution string, durationSeconds float64) error {
	now := nowRFC3339()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
		UpdateExpression: aws.String(`
			SET #status = :status,
			    updated_at = :updated_at,
			    processed_at = :processed_at,
			    output_prefix = :output_prefix,
			    duration_seconds = :duration,
			    resolution = :resolution
		`),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":        &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
			":updated_at":    &types.AttributeValueMemberS{Value: now},
			":processed_at":  &types.AttributeValueMemberS{Value: now},
			":output_prefix": &types.AttributeValueMemberS{Value: outputPrefix},
			":duration":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", durationSeconds)},
			":resolution":    &types.AttributeValueMemberS{Value: resolution},
			":processing":    &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
		},
		ConditionExpression: aws.String("#status = :processing"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrInvalidStatus
		}
		return fmt.Errorf("failed to mark asset completed: %w", err)
	}

	return nil
}

// MarkFailed records the error text verbatim and transitions to failed.
// Failed is terminal; only a fresh upload creates a new attempt.
func (r *AssetRepository) MarkFailed(ctx context.Context, assetID, errorMessage string) error {
	now := nowRFC3339()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
			"sk": &types.AttributeValueMemberS{Value: skMetadata},
		},
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":error":      &types.AttributeValueMemberS{Value: errorMessage},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrAssetNotFound
		}
		return fmt.Errorf("failed to mark asset failed: %w", err)
	}

	return nil
}

// PutQualities writes the quality variant rows for an asset. Rows live
// in the asset's partition so they cascade on delete.
func (r *AssetRepository) PutQualities(ctx context.Context, assetID string, qualities []models.VideoQuality) error {
	for i := range qualities {
		qualities[i].PK = assetPK(assetID)
		qualities[i].SK = qualityPrefix + qualities[i].Name
		qualities[i].AssetID = assetID

		item, err := attributevalue.MarshalMap(qualities[i])
		if err != nil {
			return fmt.Errorf("failed to marshal quality %s: %w", qualities[i].Name, err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.tableName),
			Item:      item,
		})
		if err != nil {
			return fmt.Errorf("failed to put quality %s: %w", qualities[i].Name, err)
		}
	}

	return nil
}

// ListQualities returns the quality rows for an asset.
func (r *AssetRepository) ListQualities(ctx context.Context, assetID string) ([]models.VideoQuality, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: assetPK(assetID)},
			":prefix": &types.AttributeValueMemberS{Value: qualityPrefix},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list qualities: %w", err)
	}

	var qualities []models.VideoQuality
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &qualities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal qualities: %w", err)
	}

	return qualities, nil
}

// DeleteAsset removes the asset and everything in its partition
// (metadata, qualities, encryption record) plus the lesson pointer.
func (r *AssetRepository) DeleteAsset(ctx context.Context, assetID string) error {
	asset, err := r.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: assetPK(assetID)},
		},
		ProjectionExpression: aws.String("pk, sk"),
	})
	if err != nil {
		return fmt.Errorf("failed to query asset partition: %w", err)
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
			return fmt.Errorf("failed to delete asset item: %w", err)
		}
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lessonPK(asset.LessonID)},
			"sk": &types.AttributeValueMemberS{Value: skAsset},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete lesson pointer: %w", err)
	}

	return nil
}
