package keys

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/pkg/models"
)

// EncryptionStore persists encryption records.
type EncryptionStore interface {
	GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error)
	UpdateEncryption(ctx context.Context, enc *models.VideoEncryption) error
}

// AssetGetter resolves asset records by id.
type AssetGetter interface {
	GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error)
}

// JobQueue enqueues transcode jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.TranscodeJob) error
}

// Rotator rotates the stored key generation for an asset. Rotating does
// not touch already-encoded media: segments encrypted with the old key
// become unplayable, so rotating a completed asset demands a paired
// re-encode, which the rotator queues in the same operation.
type Rotator struct {
	encryptions EncryptionStore
	assets      AssetGetter
	queue       JobQueue
	log         *slog.Logger
}

// NewRotator creates a Rotator.
func NewRotator(encryptions EncryptionStore, assets AssetGetter, queue JobQueue, log *slog.Logger) *Rotator {
	return &Rotator{
		encryptions: encryptions,
		assets:      assets,
		queue:       queue,
		log:         log,
	}
}

// Rotate overwrites the asset's encryption row with a fresh key id, key
// and IV. For a completed asset the caller must opt into a re-encode;
// without it the rotation is refused rather than silently breaking the
// published manifest.
func (r *Rotator) Rotate(ctx context.Context, assetID string, reencode bool) (*models.VideoEncryption, error) {
	enc, err := r.encryptions.GetEncryption(ctx, assetID)
	if err != nil {
		return nil, err
	}

	asset, err := r.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if asset.Status == models.StatusCompleted && !reencode {
		return nil, models.ErrRotateRequiresReencode
	}

	key, iv, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrKeyGenFailed, err)
	}

	enc.KeyID = NewKeyID()
	enc.Key = base64.StdEncoding.EncodeToString(key)
	enc.IV = hex.EncodeToString(iv)
	enc.RotatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := r.encryptions.UpdateEncryption(ctx, enc); err != nil {
		return nil, err
	}

	metrics.KeysRotated.Inc()
	r.log.InfoContext(ctx, "Rotated encryption key",
		"assetId", assetID,
		"keyId", enc.KeyID,
		"reencode", reencode,
	)

	if reencode && asset.Status == models.StatusCompleted {
		job := &models.TranscodeJob{
			AssetID:      asset.AssetID,
			LessonID:     asset.LessonID,
			SourceBucket: asset.SourceBucket,
			SourceKey:    asset.SourceKey,
			Filename:     asset.Filename,
			Reencode:     true,
		}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to queue re-encode after rotation: %w", err)
		}
		r.log.InfoContext(ctx, "Queued re-encode after rotation", "assetId", assetID)
	}

	return enc, nil
}
