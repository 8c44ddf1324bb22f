package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamvault/streamvault/internal/keys"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/transcoder"
	"github.com/streamvault/streamvault/pkg/models"
)

var tracer = otel.Tracer("streamvault/pipeline")

// AssetStore is the asset state machine surface the processor drives.
type AssetStore interface {
	MarkProcessing(ctx context.Context, assetID string, reencode bool) error
	MarkCompleted(ctx context.Context, assetID, outputPrefix, resolution string, durationSeconds float64) error
	MarkFailed(ctx context.Context, assetID, errorMessage string) error
	PutQualities(ctx context.Context, assetID string, qualities []models.VideoQuality) error
}

// EncryptionStore persists per-asset key material.
type EncryptionStore interface {
	GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error)
	PutEncryption(ctx context.Context, enc *models.VideoEncryption) error
}

// SourceStore fetches uploaded source files.
type SourceStore interface {
	DownloadToFile(ctx context.Context, bucket, key, destPath string) (int64, error)
}

// ProcessorConfig holds processor dependencies.
type ProcessorConfig struct {
	Assets             AssetStore
	Encryptions        EncryptionStore
	Source             SourceStore
	Blob               storage.BlobStore
	Encoder            transcoder.Encoder
	Presets            []transcoder.Preset
	ScratchDir         string
	KeyDeliveryBaseURL string
	Logger             *slog.Logger
}

// Processor runs one transcode job end to end: download, key setup,
// encrypted encode, relocate, record keeping.
type Processor struct {
	assets             AssetStore
	encryptions        EncryptionStore
	source             SourceStore
	blob               storage.BlobStore
	encoder            transcoder.Encoder
	presets            []transcoder.Preset
	scratchDir         string
	keyDeliveryBaseURL string
	log                *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg *ProcessorConfig) *Processor {
	return &Processor{
		assets:             cfg.Assets,
		encryptions:        cfg.Encryptions,
		source:             cfg.Source,
		blob:               cfg.Blob,
		encoder:            cfg.Encoder,
		presets:            cfg.Presets,
		scratchDir:         cfg.ScratchDir,
		keyDeliveryBaseURL: cfg.KeyDeliveryBaseURL,
		log:                cfg.Logger,
	}
}

// Process runs the full pipeline for one job. The asset moves to
// processing before any work starts, so a crash mid-job leaves a
// diagnosable row. Any step failure marks the asset failed with the
// error text verbatim.
func (p *Processor) Process(ctx context.Context, job *models.TranscodeJob) error {
	ctx, span := tracer.Start(ctx, "process-asset")
	defer span.End()

	span.SetAttributes(
		attribute.String("asset.id", job.AssetID),
		attribute.String("asset.source_key", job.SourceKey),
		attribute.Bool("asset.reencode", job.Reencode),
	)

	p.log.InfoContext(ctx, "Processing asset",
		"assetId", job.AssetID,
		"sourceKey", job.SourceKey,
		"reencode", job.Reencode,
	)

	if err := p.assets.MarkProcessing(ctx, job.AssetID, job.Reencode); err != nil {
		return fmt.Errorf("failed to mark asset processing: %w", err)
	}

	var processingErr error
	defer func() {
		if processingErr != nil {
			// The terminal write must survive shutdown cancellation or
			// the asset wedges in processing.
			failCtx := context.WithoutCancel(ctx)
			if failErr := p.assets.MarkFailed(failCtx, job.AssetID, processingErr.Error()); failErr != nil {
				p.log.ErrorContext(ctx, "Failed to mark asset failed",
					"assetId", job.AssetID,
					"error", failErr,
				)
			}
		}
	}()

	start := time.Now()

	scratch, err := os.MkdirTemp(p.scratchDir, "job-*")
	if err != nil {
		processingErr = fmt.Errorf("failed to create scratch directory: %w", err)
		return processingErr
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.log.Warn("Failed to remove scratch directory", "path", scratch, "error", err)
		}
	}()

	downloadStart := time.Now()
	sourcePath := filepath.Join(scratch, "source"+strings.ToLower(filepath.Ext(job.SourceKey)))
	if _, err := p.source.DownloadToFile(ctx, job.SourceBucket, job.SourceKey, sourcePath); err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrDownloadFailed, err)
		return processingErr
	}
	metrics.DownloadDuration.Observe(time.Since(downloadStart).Seconds())

	if ctx.Err() != nil {
		processingErr = fmt.Errorf("%w: before encode", models.ErrContextCanceled)
		return processingErr
	}

	hlsDir := filepath.Join(scratch, "hls")
	if err := os.MkdirAll(hlsDir, 0755); err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrEncodeFailed, err)
		return processingErr
	}

	enc, key, iv, err := p.resolveEncryption(ctx, job)
	if err != nil {
		processingErr = err
		return processingErr
	}

	keyInfo, err := keys.WriteKeyInfo(hlsDir, enc.KeyURI, key, iv)
	if err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrKeyGenFailed, err)
		return processingErr
	}

	info, err := p.encoder.Probe(ctx, sourcePath)
	if err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrEncodeFailed, err)
		return processingErr
	}

	if err := p.encoder.Encode(ctx, transcoder.EncodeJob{
		InputPath:   sourcePath,
		OutputDir:   hlsDir,
		KeyInfoPath: keyInfo.KeyInfoPath,
	}); err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrEncodeFailed, err)
		return processingErr
	}

	// Key material is persisted only after the encode succeeds; a
	// failed fresh encode leaves no orphan encryption row.
	if !job.Reencode {
		if err := p.encryptions.PutEncryption(ctx, enc); err != nil {
			processingErr = fmt.Errorf("failed to persist encryption record: %w", err)
			return processingErr
		}
	}

	if ctx.Err() != nil {
		processingErr = fmt.Errorf("%w: before relocate", models.ErrContextCanceled)
		return processingErr
	}

	outputPrefix := "hls/" + job.AssetID
	relocateStart := time.Now()
	if err := p.blob.Relocate(ctx, hlsDir, outputPrefix); err != nil {
		processingErr = fmt.Errorf("%w: %v", models.ErrRelocateFailed, err)
		return processingErr
	}
	metrics.RelocateDuration.Observe(time.Since(relocateStart).Seconds())

	if err := p.assets.PutQualities(ctx, job.AssetID, transcoder.ToQualities(p.presets)); err != nil {
		processingErr = fmt.Errorf("failed to persist quality rows: %w", err)
		return processingErr
	}

	if err := p.assets.MarkCompleted(ctx, job.AssetID, outputPrefix, info.Resolution(), info.DurationSeconds); err != nil {
		processingErr = fmt.Errorf("failed to mark asset completed: %w", err)
		return processingErr
	}

	duration := time.Since(start).Seconds()
	metrics.ProcessingDuration.Observe(duration)

	p.log.InfoContext(ctx, "Asset processed",
		"assetId", job.AssetID,
		"durationSeconds", duration,
		"outputPrefix", outputPrefix,
	)

	return nil
}

// resolveEncryption decides which key encrypts this encode. A fresh
// upload gets new material; a re-encode reuses the already rotated row
// so the key endpoint and the new segments agree.
func (p *Processor) resolveEncryption(ctx context.Context, job *models.TranscodeJob) (*models.VideoEncryption, []byte, []byte, error) {
	if job.Reencode {
		enc, err := p.encryptions.GetEncryption(ctx, job.AssetID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load encryption for re-encode: %w", err)
		}
		key, err := base64.StdEncoding.DecodeString(enc.Key)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: stored key is not valid base64: %v", models.ErrKeyGenFailed, err)
		}
		iv, err := hex.DecodeString(enc.IV)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: stored IV is not valid hex: %v", models.ErrKeyGenFailed, err)
		}
		return enc, key, iv, nil
	}

	key, iv, err := keys.GenerateKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", models.ErrKeyGenFailed, err)
	}

	keyID := keys.NewKeyID()
	enc := &models.VideoEncryption{
		AssetID: job.AssetID,
		Scheme:  models.EncryptionSchemeAES128,
		KeyID:   keyID,
		Key:     base64.StdEncoding.EncodeToString(key),
		IV:      hex.EncodeToString(iv),
		KeyURI:  fmt.Sprintf("%s/keys/%s", strings.TrimSuffix(p.keyDeliveryBaseURL, "/"), keyID),
	}

	return enc, key, iv, nil
}
