package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/pkg/models"
)

var tracer = otel.Tracer("streamvault/playback")

// LessonDirectory resolves lesson facts.
type LessonDirectory interface {
	GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error)
}

// EnrollmentDirectory resolves enrollment facts.
type EnrollmentDirectory interface {
	GetEnrollmentStatus(ctx context.Context, userID, courseID string) (models.EnrollmentStatus, error)
}

// AssetDirectory resolves the asset behind a lesson.
type AssetDirectory interface {
	GetAssetByLesson(ctx context.Context, lessonID string) (*models.VideoAsset, error)
}

// DeviceRegistry answers device session facts and records
// registrations. It makes no policy decision; the ceiling check
// belongs to the authorizer.
type DeviceRegistry interface {
	IsActive(ctx context.Context, userID, deviceID string) (bool, error)
	CountActive(ctx context.Context, userID string) (int, error)
	Register(ctx context.Context, userID, deviceID, name, class string) (*models.DeviceSession, error)
}

// TokenStore persists issued grants.
type TokenStore interface {
	PutSignedURL(ctx context.Context, record *models.SignedURL) error
}

// PlaybackRequest carries one playback attempt.
type PlaybackRequest struct {
	LessonID    string
	UserID      string
	DeviceID    string
	DeviceName  string
	DeviceClass string
}

// PlaybackGrant is a successful authorization.
type PlaybackGrant struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	AssetID   string `json:"assetId"`
	SessionID string `json:"sessionId"`
	ExpiresAt string `json:"expiresAt"`
}

// AuthorizerConfig holds authorizer dependencies.
type AuthorizerConfig struct {
	Lessons       LessonDirectory
	Enrollments   EnrollmentDirectory
	Assets        AssetDirectory
	Devices       DeviceRegistry
	Tokens        TokenStore
	Minter        *TokenMinter
	StreamBaseURL string
	TokenTTL      time.Duration
	DeviceLimit   int
	Logger        *slog.Logger
}

// Authorizer decides whether a user may stream a lesson and mints the
// grant when they may. Checks run cheapest first; the device write
// happens only for requests that already cleared entitlement.
type Authorizer struct {
	lessons       LessonDirectory
	enrollments   EnrollmentDirectory
	assets        AssetDirectory
	devices       DeviceRegistry
	tokens        TokenStore
	minter        *TokenMinter
	streamBaseURL string
	tokenTTL      time.Duration
	deviceLimit   int
	locks         *userLock
	log           *slog.Logger
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(cfg *AuthorizerConfig) *Authorizer {
	return &Authorizer{
		lessons:       cfg.Lessons,
		enrollments:   cfg.Enrollments,
		assets:        cfg.Assets,
		devices:       cfg.Devices,
		tokens:        cfg.Tokens,
		minter:        cfg.Minter,
		streamBaseURL: strings.TrimSuffix(cfg.StreamBaseURL, "/"),
		tokenTTL:      cfg.TokenTTL,
		deviceLimit:   cfg.DeviceLimit,
		locks:         newUserLock(),
		log:           cfg.Logger,
	}
}

// GetPlaybackURL runs the authorization chain for one request.
func (a *Authorizer) GetPlaybackURL(ctx context.Context, req *PlaybackRequest) (*PlaybackGrant, error) {
	ctx, span := tracer.Start(ctx, "authorize-playback")
	defer span.End()

	span.SetAttributes(
		attribute.String("lesson.id", req.LessonID),
		attribute.String("user.id", req.UserID),
	)

	lesson, err := a.lessons.GetLesson(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, models.ErrLessonNotFound) {
			metrics.RecordRejection("lesson_not_found")
			return nil, models.ErrVideoNotFound
		}
		return nil, err
	}

	if !lesson.IsPreview {
		status, err := a.enrollments.GetEnrollmentStatus(ctx, req.UserID, lesson.CourseID)
		if err != nil {
			return nil, err
		}
		if !status.Playable() {
			if status == models.EnrollmentExpired {
				metrics.RecordRejection("enrollment_expired")
				return nil, models.ErrEnrollmentExpired
			}
			metrics.RecordRejection("not_enrolled")
			return nil, models.ErrNotEnrolled
		}
	}

	asset, err := a.assets.GetAssetByLesson(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			metrics.RecordRejection("video_not_found")
			return nil, models.ErrVideoNotFound
		}
		return nil, err
	}

	if asset.Status != models.StatusCompleted {
		metrics.RecordRejection("not_ready")
		return nil, fmt.Errorf("%w: asset is %s", models.ErrNotReady, asset.Status)
	}

	// The ceiling read and the registration write race against other
	// requests from the same user; serialize them.
	mu := a.locks.lock(req.UserID)
	defer mu.Unlock()

	// An already-active device holds its slot; only a new or dormant
	// device needs a free one, and the ceiling rejects it before any
	// row is written.
	active, err := a.devices.IsActive(ctx, req.UserID, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if !active {
		count, err := a.devices.CountActive(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if count >= a.deviceLimit {
			metrics.RecordRejection("device_limit")
			return nil, models.ErrDeviceLimitReached
		}
	}

	session, err := a.devices.Register(ctx, req.UserID, req.DeviceID, req.DeviceName, req.DeviceClass)
	if err != nil {
		return nil, err
	}

	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(a.tokenTTL)
	token := a.minter.Mint(asset.AssetID, req.UserID, req.DeviceID, issuedAt)

	record := &models.SignedURL{
		Token:     token,
		AssetID:   asset.AssetID,
		UserID:    req.UserID,
		SessionID: session.SessionID,
		DeviceID:  req.DeviceID,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		CreatedAt: issuedAt.Format(time.RFC3339),
	}
	if err := a.tokens.PutSignedURL(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist playback grant: %w", err)
	}

	metrics.TokensIssued.Inc()
	a.log.InfoContext(ctx, "Issued playback token",
		"userId", req.UserID,
		"assetId", asset.AssetID,
		"sessionId", session.SessionID,
		"expiresAt", record.ExpiresAt,
	)

	return &PlaybackGrant{
		URL:       fmt.Sprintf("%s/%s/index.m3u8?token=%s", a.streamBaseURL, asset.AssetID, token),
		Token:     token,
		AssetID:   asset.AssetID,
		SessionID: session.SessionID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}
