package models

import "errors"

// Sentinel errors for asset and playback operations.
var (
	// Validation errors
	ErrMissingAssetID   = errors.New("assetId is required")
	ErrMissingSourceKey = errors.New("sourceKey is required")
	ErrMissingBucket    = errors.New("bucket is required")
	ErrMissingLessonID  = errors.New("lessonId is required")

	// Authorization errors, surfaced directly to the caller
	ErrNotEnrolled             = errors.New("user is not enrolled in the course")
	ErrEnrollmentExpired       = errors.New("enrollment has expired")
	ErrVideoNotFound           = errors.New("video not found")
	ErrNotReady                = errors.New("video is not ready for playback")
	ErrDeviceLimitReached      = errors.New("active device limit reached")
	ErrInvalidToken            = errors.New("invalid playback token")
	ErrTokenExpired            = errors.New("playback token expired")
	ErrEncryptionNotConfigured = errors.New("no encryption record for asset")

	// Pipeline errors, recorded verbatim on the asset as failed
	ErrJobParseFailed  = errors.New("failed to parse job")
	ErrDownloadFailed  = errors.New("failed to download source video")
	ErrKeyGenFailed    = errors.New("failed to generate encryption key")
	ErrEncodeFailed    = errors.New("failed to encode video")
	ErrRelocateFailed  = errors.New("failed to relocate encoded output")
	ErrContextCanceled = errors.New("context canceled")

	// Storage errors
	ErrAssetNotFound   = errors.New("asset not found")
	ErrAssetExists     = errors.New("asset already exists for lesson")
	ErrSessionNotFound = errors.New("device session not found")
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrInvalidStatus   = errors.New("invalid asset status")

	// Rotation errors
	ErrRotateRequiresReencode = errors.New("rotating a completed asset requires a re-encode")

	// Validation errors for uploads
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFilenameTooLong    = errors.New("filename too long")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidKeyFormat   = errors.New("invalid key format")
)
