// Package devices keeps the per-user device session inventory. It
// answers how many devices are active and records registrations; the
// concurrency ceiling itself is enforced by the playback authorizer.
package devices

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/streamvault/streamvault/pkg/models"
)

// Store is the session persistence surface the tracker needs.
type Store interface {
	GetSession(ctx context.Context, userID, deviceID string) (*models.DeviceSession, error)
	PutSession(ctx context.Context, session *models.DeviceSession) error
	TouchSession(ctx context.Context, userID, deviceID string) error
	ListSessions(ctx context.Context, userID string) ([]models.DeviceSession, error)
	CountActive(ctx context.Context, userID string) (int, error)
	DeactivateSession(ctx context.Context, userID, sessionID string) error
}

// Tracker keeps device session facts. It makes no policy decision:
// callers decide whether a registration is allowed and must serialize
// the decision with the write per user.
type Tracker struct {
	store Store
	log   *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store Store, log *slog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log,
	}
}

// Register records the (user, device) pair as active: a known device
// only refreshes last_seen_at, an unknown one gets a fresh session row.
func (t *Tracker) Register(ctx context.Context, userID, deviceID, name, class string) (*models.DeviceSession, error) {
	session, err := t.store.GetSession(ctx, userID, deviceID)
	switch {
	case err == nil:
		if err := t.store.TouchSession(ctx, userID, deviceID); err != nil {
			return nil, err
		}
		session.IsActive = true
		return session, nil

	case errors.Is(err, models.ErrSessionNotFound):
		now := nowRFC3339()
		session := &models.DeviceSession{
			SessionID:  uuid.New().String(),
			UserID:     userID,
			DeviceID:   deviceID,
			Name:       name,
			Class:      class,
			IsActive:   true,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		if err := t.store.PutSession(ctx, session); err != nil {
			return nil, err
		}

		t.log.InfoContext(ctx, "Registered device",
			"userId", userID,
			"deviceId", deviceID,
			"sessionId", session.SessionID,
		)
		return session, nil

	default:
		return nil, err
	}
}

// IsActive reports whether the (user, device) pair currently holds an
// active slot. An unknown device is simply not active.
func (t *Tracker) IsActive(ctx context.Context, userID, deviceID string) (bool, error) {
	session, err := t.store.GetSession(ctx, userID, deviceID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.IsActive, nil
}

// CountActive returns the number of active device slots the user holds.
func (t *Tracker) CountActive(ctx context.Context, userID string) (int, error) {
	return t.store.CountActive(ctx, userID)
}

// List returns every session the user has ever registered.
func (t *Tracker) List(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	return t.store.ListSessions(ctx, userID)
}

// Deactivate frees a device slot. The session row survives for audit.
func (t *Tracker) Deactivate(ctx context.Context, userID, sessionID string) error {
	if err := t.store.DeactivateSession(ctx, userID, sessionID); err != nil {
		return err
	}
	t.log.InfoContext(ctx, "Deactivated device session",
		"userId", userID,
		"sessionId", sessionID,
	)
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
