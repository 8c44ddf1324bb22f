package models

// AssetStatus represents the lifecycle state of a video asset.
type AssetStatus string

const (
	StatusPending    AssetStatus = "pending"
	StatusProcessing AssetStatus = "processing"
	StatusCompleted  AssetStatus = "completed"
	StatusFailed     AssetStatus = "failed"
)

// IsValid returns true if the status is a valid AssetStatus.
func (s AssetStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for states that only a fresh upload can leave.
func (s AssetStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VideoAsset is the server-side record for one lesson's video.
type VideoAsset struct {
	// Keys
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`

	// Attributes
	AssetID         string      `dynamodbav:"asset_id" json:"assetId"`
	LessonID        string      `dynamodbav:"lesson_id" json:"lessonId"`
	Filename        string      `dynamodbav:"filename" json:"filename"`
	Status          AssetStatus `dynamodbav:"status" json:"status"`
	SourceBucket    string      `dynamodbav:"source_bucket" json:"sourceBucket"`
	SourceKey       string      `dynamodbav:"source_key" json:"sourceKey"`
	OutputPrefix    string      `dynamodbav:"output_prefix,omitempty" json:"outputPrefix,omitempty"`
	FileSizeBytes   int64       `dynamodbav:"file_size_bytes,omitempty" json:"fileSizeBytes,omitempty"`
	DurationSeconds float64     `dynamodbav:"duration_seconds,omitempty" json:"durationSeconds,omitempty"`
	Resolution      string      `dynamodbav:"resolution,omitempty" json:"resolution,omitempty"`
	ErrorMessage    string      `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt       string      `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       string      `dynamodbav:"updated_at" json:"updatedAt"`
	ProcessedAt     string      `dynamodbav:"processed_at,omitempty" json:"processedAt,omitempty"`
}

// VideoQuality is one encoded bitrate/resolution variant of an asset.
// Rows are created only after a successful encode and are immutable.
type VideoQuality struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`

	AssetID string `dynamodbav:"asset_id" json:"assetId"`
	Name    string `dynamodbav:"name" json:"name"`
	Width   int    `dynamodbav:"width" json:"width"`
	Height  int    `dynamodbav:"height" json:"height"`
	Bitrate int    `dynamodbav:"bitrate" json:"bitrate"`
}

// VideoEncryption holds the current key generation for an asset.
// At most one row exists per asset; rotation mutates it in place.
// Key material never leaves the key manager and key delivery paths.
type VideoEncryption struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`

	AssetID   string `dynamodbav:"asset_id" json:"assetId"`
	Scheme    string `dynamodbav:"scheme" json:"scheme"`
	KeyID     string `dynamodbav:"key_id" json:"keyId"`
	Key       string `dynamodbav:"key_material" json:"-"`
	IV        string `dynamodbav:"iv" json:"-"`
	KeyURI    string `dynamodbav:"key_uri" json:"keyUri"`
	CreatedAt string `dynamodbav:"created_at" json:"createdAt"`
	RotatedAt string `dynamodbav:"rotated_at,omitempty" json:"rotatedAt,omitempty"`
}

// EncryptionSchemeAES128 is the only scheme the pipeline produces.
const EncryptionSchemeAES128 = "AES-128"
