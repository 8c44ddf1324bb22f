package models

// TranscodeJob is a transcode request consumed from the upload-event queue.
type TranscodeJob struct {
	AssetID      string `json:"assetId"`
	LessonID     string `json:"lessonId"`
	SourceBucket string `json:"sourceBucket"`
	SourceKey    string `json:"sourceKey"`
	Filename     string `json:"filename"`
	Reencode     bool   `json:"reencode,omitempty"`
}

// Validate checks if the transcode job has all required fields.
func (j *TranscodeJob) Validate() error {
	if j.AssetID == "" {
		return ErrMissingAssetID
	}
	if j.SourceKey == "" {
		return ErrMissingSourceKey
	}
	if j.SourceBucket == "" {
		return ErrMissingBucket
	}
	return nil
}
