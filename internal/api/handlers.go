// Package api provides the HTTP control and key-delivery surface for
// the content protection engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamvault/streamvault/internal/auth"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/devices"
	"github.com/streamvault/streamvault/internal/keys"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/playback"
	"github.com/streamvault/streamvault/pkg/models"
)

var tracer = otel.Tracer("streamvault/api")

// Configuration constants
const (
	PresignedURLExpiration = 10 * time.Minute
	MaxFilenameLength      = 255
	MaxRequestBodySize     = 1 << 20 // 1 MB
)

// Allowed video extensions and content types
var (
	AllowedExtensions = map[string]bool{
		".mp4":  true,
		".mov":  true,
		".avi":  true,
		".mkv":  true,
		".webm": true,
	}

	AllowedContentTypes = map[string]bool{
		"video/mp4":        true,
		"video/quicktime":  true,
		"video/x-msvideo":  true,
		"video/x-matroska": true,
		"video/webm":       true,
	}
)

// AssetStore is the asset persistence surface the handlers use.
type AssetStore interface {
	CreateAsset(ctx context.Context, assetID, lessonID, filename, sourceBucket, sourceKey string, fileSizeBytes int64) (*models.VideoAsset, error)
	GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error)
	ListQualities(ctx context.Context, assetID string) ([]models.VideoQuality, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// ObjectStore is the raw-bucket surface the handlers use.
type ObjectStore interface {
	GeneratePresignedURL(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error)
	HeadObject(ctx context.Context, bucket, key string) (int64, error)
}

// JobQueue enqueues transcode jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.TranscodeJob) error
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg        *config.Config
	log        *slog.Logger
	objects    ObjectStore
	queue      JobQueue
	assets     AssetStore
	jwtService *auth.JWTService
	authorizer *playback.Authorizer
	keyService *playback.KeyService
	tracker    *devices.Tracker
	rotator    *keys.Rotator
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config     *config.Config
	Logger     *slog.Logger
	Objects    ObjectStore
	Queue      JobQueue
	Assets     AssetStore
	JWTService *auth.JWTService
	Authorizer *playback.Authorizer
	KeyService *playback.KeyService
	Tracker    *devices.Tracker
	Rotator    *keys.Rotator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:        cfg.Config,
		log:        cfg.Logger,
		objects:    cfg.Objects,
		queue:      cfg.Queue,
		assets:     cfg.Assets,
		jwtService: cfg.JWTService,
		authorizer: cfg.Authorizer,
		keyService: cfg.KeyService,
		tracker:    cfg.Tracker,
		rotator:    cfg.Rotator,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// limitRequestBody wraps the request body with a size limit.
func (h *Handlers) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
}

// decodeJSON decodes the request body, translating oversized bodies.
func (h *Handlers) decodeJSON(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	h.limitRequestBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// LoginHandler handles user authentication and returns a JWT token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientIP := auth.GetClientIP(r)

	username, password, ok := r.BasicAuth()
	if !ok {
		metrics.AuthFailures.WithLabelValues("missing_credentials").Inc()
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		h.log.WarnContext(ctx, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.InfoContext(ctx, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"token": token})
}

// InitUploadRequest is the request payload for upload initialization.
type InitUploadRequest struct {
	LessonID    string `json:"lessonId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// InitUploadResponse is the response payload for upload initialization.
type InitUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	AssetID   string `json:"assetId"`
	Key       string `json:"key"`
	RequestID string `json:"requestId"`
}

// InitUploadHandler generates a presigned URL for source video upload.
func (h *Handlers) InitUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "init-upload-handler",
		trace.WithAttributes(
			attribute.String("handler", "init-upload"),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	var req InitUploadRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}

	if req.LessonID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "lessonId is required")
		return
	}
	if err := validateFilename(req.Filename); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateContentType(req.ContentType); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	assetID := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(req.Filename))
	s3Key := fmt.Sprintf("uploads/%s%s", assetID, ext)

	span.SetAttributes(
		attribute.String("asset.id", assetID),
		attribute.String("asset.key", s3Key),
		attribute.String("asset.content_type", req.ContentType),
	)

	presignedURL, err := h.objects.GeneratePresignedURL(ctx, h.cfg.AWS.RawBucket, s3Key, req.ContentType, PresignedURLExpiration)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to generate presigned URL",
			"error", err,
			"assetId", assetID,
			"requestId", requestID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	metrics.UploadsInitiated.Inc()
	h.log.InfoContext(ctx, "Generated presigned URL",
		"assetId", assetID,
		"lessonId", req.LessonID,
		"key", s3Key,
		"requestId", requestID,
	)

	h.writeJSON(ctx, w, http.StatusOK, InitUploadResponse{
		UploadURL: presignedURL,
		AssetID:   assetID,
		Key:       s3Key,
		RequestID: requestID,
	})
}

// CompleteUploadRequest is the request payload for completing an upload.
type CompleteUploadRequest struct {
	AssetID  string `json:"assetId"`
	LessonID string `json:"lessonId"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// CompleteUploadResponse is the response payload for completed uploads.
type CompleteUploadResponse struct {
	AssetID   string `json:"assetId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// CompleteUploadHandler verifies the upload landed, creates the pending
// asset record, and queues the transcode job.
func (h *Handlers) CompleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "complete-upload-handler",
		trace.WithAttributes(
			attribute.String("handler", "complete-upload"),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	var req CompleteUploadRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}

	if req.AssetID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "assetId is required")
		return
	}
	if req.LessonID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "lessonId is required")
		return
	}
	if req.Key == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "key is required")
		return
	}

	if err := validateSourceKey(req.Key, req.AssetID); err != nil {
		span.RecordError(err)
		h.log.WarnContext(ctx, "Invalid source key format",
			"key", req.Key,
			"assetId", req.AssetID,
			"requestId", requestID,
			"error", err,
		)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("asset.id", req.AssetID),
		attribute.String("asset.key", req.Key),
	)

	fileSizeBytes, err := h.objects.HeadObject(ctx, h.cfg.AWS.RawBucket, req.Key)
	if err != nil {
		span.RecordError(err)
		h.log.WarnContext(ctx, "Source file not found",
			"key", req.Key,
			"assetId", req.AssetID,
			"requestId", requestID,
			"error", err,
		)
		h.writeError(ctx, w, http.StatusNotFound, "Source file not found")
		return
	}
	span.SetAttributes(attribute.Int64("asset.size_bytes", fileSizeBytes))

	_, err = h.assets.CreateAsset(ctx, req.AssetID, req.LessonID, req.Filename, h.cfg.AWS.RawBucket, req.Key, fileSizeBytes)
	if err != nil {
		if errors.Is(err, models.ErrAssetExists) {
			h.writeError(ctx, w, http.StatusConflict, "Lesson already has a video asset")
			return
		}
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to create asset record",
			"assetId", req.AssetID,
			"error", err,
			"requestId", requestID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	job := &models.TranscodeJob{
		AssetID:      req.AssetID,
		LessonID:     req.LessonID,
		SourceBucket: h.cfg.AWS.RawBucket,
		SourceKey:    req.Key,
		Filename:     req.Filename,
	}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to queue transcode job",
			"error", err,
			"assetId", req.AssetID,
			"requestId", requestID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	h.log.InfoContext(ctx, "Transcode job queued",
		"assetId", req.AssetID,
		"lessonId", req.LessonID,
		"requestId", requestID,
	)

	h.writeJSON(ctx, w, http.StatusAccepted, CompleteUploadResponse{
		AssetID:   req.AssetID,
		Status:    string(models.StatusPending),
		Message:   "Video queued for processing",
		RequestID: requestID,
	})
}

// AssetResponse is the status payload for one asset.
type AssetResponse struct {
	Asset     *models.VideoAsset    `json:"asset"`
	Qualities []models.VideoQuality `json:"qualities,omitempty"`
}

// GetAssetHandler returns the asset record with its quality variants.
func (h *Handlers) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID := r.PathValue("id")

	asset, err := h.assets.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Asset not found")
			return
		}
		h.log.ErrorContext(ctx, "Failed to get asset", "assetId", assetID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var qualities []models.VideoQuality
	if asset.Status == models.StatusCompleted {
		qualities, err = h.assets.ListQualities(ctx, assetID)
		if err != nil {
			h.log.WarnContext(ctx, "Failed to list qualities", "assetId", assetID, "error", err)
		}
	}

	h.writeJSON(ctx, w, http.StatusOK, AssetResponse{Asset: asset, Qualities: qualities})
}

// DeleteAssetHandler removes an asset with its qualities, encryption
// record, and lesson pointer, freeing the lesson for a fresh upload.
func (h *Handlers) DeleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID := r.PathValue("id")

	if err := h.assets.DeleteAsset(ctx, assetID); err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Asset not found")
			return
		}
		h.log.ErrorContext(ctx, "Failed to delete asset", "assetId", assetID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.log.InfoContext(ctx, "Deleted asset", "assetId", assetID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateKeyRequest is the request payload for key rotation.
type RotateKeyRequest struct {
	Reencode bool `json:"reencode"`
}

// RotateKeyResponse reports the rotation outcome.
type RotateKeyResponse struct {
	AssetID        string `json:"assetId"`
	KeyID          string `json:"keyId"`
	RotatedAt      string `json:"rotatedAt"`
	ReencodeQueued bool   `json:"reencodeQueued"`
}

// RotateKeyHandler rotates the encryption key for an asset.
func (h *Handlers) RotateKeyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID := r.PathValue("id")

	ctx, span := tracer.Start(ctx, "rotate-key-handler",
		trace.WithAttributes(attribute.String("asset.id", assetID)))
	defer span.End()

	var req RotateKeyRequest
	if r.ContentLength > 0 {
		if !h.decodeJSON(ctx, w, r, &req) {
			return
		}
	}

	asset, err := h.assets.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Asset not found")
			return
		}
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	enc, err := h.rotator.Rotate(ctx, assetID, req.Reencode)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, models.ErrRotateRequiresReencode):
			h.writeError(ctx, w, http.StatusConflict, "Rotating a completed asset requires a re-encode")
		case errors.Is(err, models.ErrEncryptionNotConfigured):
			h.writeError(ctx, w, http.StatusNotFound, "Asset has no encryption configured")
		default:
			h.log.ErrorContext(ctx, "Failed to rotate key", "assetId", assetID, "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, RotateKeyResponse{
		AssetID:        assetID,
		KeyID:          enc.KeyID,
		RotatedAt:      enc.RotatedAt,
		ReencodeQueued: req.Reencode && asset.Status == models.StatusCompleted,
	})
}

// PlaybackHandlerRequest is the request payload for playback authorization.
type PlaybackHandlerRequest struct {
	LessonID string `json:"lessonId"`
}

// PlaybackHandler authorizes a playback attempt and returns the signed
// stream URL. The requesting device is identified by headers.
func (h *Handlers) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctx, span := tracer.Start(ctx, "playback-handler")
	defer span.End()

	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing authentication")
		return
	}

	var req PlaybackHandlerRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}
	if req.LessonID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "lessonId is required")
		return
	}

	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "X-Device-ID header is required")
		return
	}

	grant, err := h.authorizer.GetPlaybackURL(ctx, &playback.PlaybackRequest{
		LessonID:    req.LessonID,
		UserID:      claims.UserID,
		DeviceID:    deviceID,
		DeviceName:  r.Header.Get("X-Device-Name"),
		DeviceClass: r.Header.Get("X-Device-Class"),
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, models.ErrNotEnrolled), errors.Is(err, models.ErrEnrollmentExpired):
			h.writeError(ctx, w, http.StatusForbidden, err.Error())
		case errors.Is(err, models.ErrVideoNotFound):
			h.writeError(ctx, w, http.StatusNotFound, "Video not found")
		case errors.Is(err, models.ErrNotReady):
			h.writeError(ctx, w, http.StatusConflict, "Video is not ready for playback")
		case errors.Is(err, models.ErrDeviceLimitReached):
			h.writeError(ctx, w, http.StatusTooManyRequests, "Device limit reached")
		default:
			h.log.ErrorContext(ctx, "Playback authorization failed", "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, grant)
}

// KeyDeliveryHandler serves raw AES-128 key material to players holding
// a valid playback token.
func (h *Handlers) KeyDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID := r.PathValue("keyID")

	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "token is required")
		return
	}

	key, err := h.keyService.GetEncryptionKey(ctx, keyID, token)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenExpired):
			h.writeError(ctx, w, http.StatusGone, "Playback token expired")
		case errors.Is(err, models.ErrInvalidToken), errors.Is(err, models.ErrEncryptionNotConfigured):
			h.writeError(ctx, w, http.StatusNotFound, "Key not found")
		default:
			h.log.ErrorContext(ctx, "Key delivery failed", "keyId", keyID, "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(key); err != nil {
		h.log.ErrorContext(ctx, "Failed to write key material", "error", err)
	}
}

// ListDevicesHandler returns the caller's device sessions.
func (h *Handlers) ListDevicesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing authentication")
		return
	}

	sessions, err := h.tracker.List(ctx, claims.UserID)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to list device sessions", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if sessions == nil {
		sessions = []models.DeviceSession{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"devices": sessions})
}

// DeactivateDeviceHandler frees one of the caller's device slots.
func (h *Handlers) DeactivateDeviceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionID")

	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing authentication")
		return
	}

	if err := h.tracker.Deactivate(ctx, claims.UserID, sessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Session not found")
			return
		}
		h.log.ErrorContext(ctx, "Failed to deactivate session", "sessionId", sessionID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Validation functions

func validateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	if len(filename) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: allowed extensions are mp4, mov, avi, mkv, webm", models.ErrInvalidFileType)
	}

	return nil
}

func validateContentType(contentType string) error {
	if contentType == "" {
		return errors.New("content type is required")
	}
	if !AllowedContentTypes[contentType] {
		return fmt.Errorf("%w: %s", models.ErrInvalidContentType, contentType)
	}
	return nil
}

func validateSourceKey(key, assetID string) error {
	decodedKey, err := url.PathUnescape(key)
	if err != nil {
		return fmt.Errorf("%w: invalid URL encoding", models.ErrInvalidKeyFormat)
	}

	if strings.Contains(decodedKey, "..") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: path traversal not allowed", models.ErrInvalidKeyFormat)
	}

	expectedPrefix := fmt.Sprintf("uploads/%s", assetID)
	if !strings.HasPrefix(key, expectedPrefix) {
		return fmt.Errorf("%w: key must start with %s", models.ErrInvalidKeyFormat, expectedPrefix)
	}

	ext := strings.ToLower(filepath.Ext(key))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: invalid extension in key", models.ErrInvalidKeyFormat)
	}

	return nil
}
