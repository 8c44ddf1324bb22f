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

// DeviceRepository handles device session records. One row exists per
// (user, device) pair; repeat playback on a known device refreshes the
// row instead of growing the partition.
type DeviceRepository struct {
	client    DynamoAPI
	tableName string
}

// NewDeviceRepository creates a DeviceRepository from an existing client.
func NewDeviceRepository(client DynamoAPI, tableName string) *DeviceRepository {
	return &DeviceRepository{
		client:    client,
		tableName: tableName,
	}
}

// GetSession retrieves the session row for a (user, device) pair.
// Returns models.ErrSessionNotFound when the device was never seen.
func (r *DeviceRepository) GetSession(ctx context.Context, userID, deviceID string) (*models.DeviceSession, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: userPK(userID)},
			"sk": &types.AttributeValueMemberS{Value: devicePrefix + deviceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get device session: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrSessionNotFound
	}

	var session models.DeviceSession
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device session: %w", err)
	}

	return &session, nil
}

// PutSession writes (or rewrites) a session row.
func (r *DeviceRepository) PutSession(ctx context.Context, session *models.DeviceSession) error {
	session.PK = userPK(session.UserID)
	session.SK = devicePrefix + session.DeviceID

	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal device session: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put device session: %w", err)
	}

	return nil
}

// TouchSession refreshes last_seen_at and reactivates the row for a
// device that already exists.
func (r *DeviceRepository) TouchSession(ctx context.Context, userID, deviceID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: userPK(userID)},
			"sk": &types.AttributeValueMemberS{Value: devicePrefix + deviceID},
		},
		UpdateExpression: aws.String("SET last_seen_at = :now, is_active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":    &types.AttributeValueMemberS{Value: nowRFC3339()},
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrSessionNotFound
		}
		return fmt.Errorf("failed to touch device session: %w", err)
	}

	return nil
}

// ListSessions returns every session row for a user, active or not.
func (r *DeviceRepository) ListSessions(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: devicePrefix},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}

	var sessions []models.DeviceSession
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device sessions: %w", err)
	}

	return sessions, nil
}

// CountActive returns the number of active devices for a user.
func (r *DeviceRepository) CountActive(ctx context.Context, userID string) (int, error) {
	sessions, err := r.ListSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, s := range sessions {
		if s.IsActive {
			count++
		}
	}

	return count, nil
}

// DeactivateSession flips is_active on the session with the given id.
// The row is kept for audit. Returns models.ErrSessionNotFound when no
// session matches.
func (r *DeviceRepository) DeactivateSession(ctx context.Context, userID, sessionID string) error {
	sessions, err := r.ListSessions(ctx, userID)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		if s.SessionID != sessionID {
			continue
		}

		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(r.tableName),
			Key: map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: userPK(userID)},
				"sk": &types.AttributeValueMemberS{Value: devicePrefix + s.DeviceID},
			},
			UpdateExpression: aws.String("SET is_active = :inactive"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":inactive": &types.AttributeValueMemberBOOL{Value: false},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to deactivate device session: %w", err)
		}

		return nil
	}

	return models.ErrSessionNotFound
}
