package models

// SignedURL records one authorized playback attempt. The token is valid
// until expiry regardless of the used flag; keys may legitimately be
// fetched multiple times during a single HLS session.
type SignedURL struct {
	// Keys
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`

	// Attributes
	Token     string `dynamodbav:"token" json:"-"`
	AssetID   string `dynamodbav:"asset_id" json:"assetId"`
	UserID    string `dynamodbav:"user_id" json:"userId"`
	SessionID string `dynamodbav:"session_id" json:"sessionId"`
	DeviceID  string `dynamodbav:"device_id" json:"deviceId"`
	ExpiresAt string `dynamodbav:"expires_at" json:"expiresAt"`
	UsedAt    string `dynamodbav:"used_at,omitempty" json:"usedAt,omitempty"`
	CreatedAt string `dynamodbav:"created_at" json:"createdAt"`
}

// DeviceSession is one (user, device) pair ever seen. Rows are never
// deleted; deactivation flips is_active and keeps the row for audit.
type DeviceSession struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`

	SessionID  string `dynamodbav:"session_id" json:"sessionId"`
	UserID     string `dynamodbav:"user_id" json:"userId"`
	DeviceID   string `dynamodbav:"device_id" json:"deviceId"`
	Name       string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Class      string `dynamodbav:"class,omitempty" json:"class,omitempty"`
	IsActive   bool   `dynamodbav:"is_active" json:"isActive"`
	CreatedAt  string `dynamodbav:"created_at" json:"createdAt"`
	LastSeenAt string `dynamodbav:"last_seen_at" json:"lastSeenAt"`
}

// Lesson carries the lesson facts this engine trusts from the course
// subsystem: identity, owning course, and the free-preview flag.
type Lesson struct {
	LessonID  string `dynamodbav:"lesson_id" json:"lessonId"`
	CourseID  string `dynamodbav:"course_id" json:"courseId"`
	IsPreview bool   `dynamodbav:"is_preview" json:"isPreview"`
}

// EnrollmentStatus is the enrollment fact supplied by the commerce
// subsystem for a (user, course) pair.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExpired   EnrollmentStatus = "expired"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
	EnrollmentNone      EnrollmentStatus = "none"
)

// Playable returns true when the enrollment grants playback.
func (s EnrollmentStatus) Playable() bool {
	return s == EnrollmentActive || s == EnrollmentCompleted
}
