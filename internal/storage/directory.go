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

// DirectoryRepository reads the lesson and enrollment facts that the
// course and commerce subsystems replicate into this table. This
// service only consumes them; writes happen upstream.
type DirectoryRepository struct {
	client    DynamoAPI
	tableName string
}

// NewDirectoryRepository creates a DirectoryRepository from an existing client.
func NewDirectoryRepository(client DynamoAPI, tableName string) *DirectoryRepository {
	return &DirectoryRepository{
		client:    client,
		tableName: tableName,
	}
}

// GetLesson returns the lesson facts for an id. Returns
// models.ErrLessonNotFound when the lesson is unknown.
func (r *DirectoryRepository) GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lessonPK(lessonID)},
			"sk": &types.AttributeValueMemberS{Value: skInfo},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrLessonNotFound
	}

	var lesson models.Lesson
	if err := attributevalue.UnmarshalMap(result.Item, &lesson); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lesson: %w", err)
	}

	return &lesson, nil
}

type enrollmentRow struct {
	Status string `dynamodbav:"status"`
}

// GetEnrollmentStatus returns the enrollment status for a (user, course)
// pair. A missing row means the user never enrolled.
func (r *DirectoryRepository) GetEnrollmentStatus(ctx context.Context, userID, courseID string) (models.EnrollmentStatus, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: userPK(userID)},
			"sk": &types.AttributeValueMemberS{Value: enrollmentPrefix + courseID},
		},
	})
	if err != nil {
		return models.EnrollmentNone, fmt.Errorf("failed to get enrollment: %w", err)
	}

	if result.Item == nil {
		return models.EnrollmentNone, nil
	}

	var row enrollmentRow
	if err := attributevalue.UnmarshalMap(result.Item, &row); err != nil {
		return models.EnrollmentNone, fmt.Errorf("failed to unmarshal enrollment: %w", err)
	}

	return models.EnrollmentStatus(row.Status), nil
}
