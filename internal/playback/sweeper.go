package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamvault/streamvault/internal/metrics"
)

// ExpiredDeleter deletes token rows that expired before a cutoff.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Sweeper periodically deletes expired grant rows. Expiry itself is
// enforced at read time; the sweep only reclaims storage.
type Sweeper struct {
	store    ExpiredDeleter
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(store ExpiredDeleter, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
	}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "Starting signed URL sweeper", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "Sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.log.ErrorContext(ctx, "Sweep failed", "error", err, "deleted", deleted)
		return
	}
	if deleted > 0 {
		metrics.SignedURLsSwept.Add(float64(deleted))
		s.log.InfoContext(ctx, "Swept expired signed URLs", "deleted", deleted)
	}
}
