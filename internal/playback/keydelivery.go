package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/pkg/models"
)

// GrantStore is the token record surface key delivery reads.
type GrantStore interface {
	GetSignedURL(ctx context.Context, token string) (*models.SignedURL, error)
	MarkUsed(ctx context.Context, token string) error
}

// EncryptionReader loads the current encryption row for an asset.
type EncryptionReader interface {
	GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error)
}

// KeyService guards the AES key endpoint. Every player request for key
// material passes through here with the playback token attached.
type KeyService struct {
	grants      GrantStore
	encryptions EncryptionReader
	minter      *TokenMinter
	log         *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(grants GrantStore, encryptions EncryptionReader, minter *TokenMinter, log *slog.Logger) *KeyService {
	return &KeyService{
		grants:      grants,
		encryptions: encryptions,
		minter:      minter,
		log:         log,
	}
}

// GetEncryptionKey validates the token and returns the raw AES-128 key
// for keyID. A token stays refetchable until expiry; segments are
// pulled repeatedly during one viewing session.
func (s *KeyService) GetEncryptionKey(ctx context.Context, keyID, token string) ([]byte, error) {
	record, err := s.grants.GetSignedURL(ctx, token)
	if err != nil {
		metrics.RecordKeyDelivery("invalid_token")
		return nil, err
	}

	issuedAt, err := time.Parse(time.RFC3339, record.CreatedAt)
	if err != nil {
		metrics.RecordKeyDelivery("invalid_token")
		return nil, models.ErrInvalidToken
	}

	if !s.minter.Verify(token, record.AssetID, record.UserID, record.DeviceID, issuedAt) {
		metrics.RecordKeyDelivery("binding_mismatch")
		s.log.WarnContext(ctx, "Token binding mismatch",
			"assetId", record.AssetID,
			"userId", record.UserID,
		)
		return nil, models.ErrInvalidToken
	}

	expiresAt, err := time.Parse(time.RFC3339, record.ExpiresAt)
	if err != nil {
		metrics.RecordKeyDelivery("invalid_token")
		return nil, models.ErrInvalidToken
	}
	if time.Now().After(expiresAt) {
		metrics.RecordKeyDelivery("expired")
		return nil, models.ErrTokenExpired
	}

	enc, err := s.encryptions.GetEncryption(ctx, record.AssetID)
	if err != nil {
		metrics.RecordKeyDelivery("no_encryption")
		return nil, err
	}

	// A rotated key invalidates outstanding manifests referencing the
	// old key id.
	if enc.KeyID != keyID {
		metrics.RecordKeyDelivery("key_mismatch")
		return nil, models.ErrInvalidToken
	}

	key, err := base64.StdEncoding.DecodeString(enc.Key)
	if err != nil {
		metrics.RecordKeyDelivery("error")
		return nil, fmt.Errorf("stored key material is corrupt: %w", err)
	}

	if err := s.grants.MarkUsed(ctx, token); err != nil {
		// Delivery still succeeds; the stamp is advisory.
		s.log.WarnContext(ctx, "Failed to stamp token usage", "error", err)
	}

	metrics.RecordKeyDelivery("ok")
	return key, nil
}
