// Package scheduler publishes scheduled articles once they come due.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// DueSource lists scheduled articles whose time has passed and records
// failed attempts so they back off.
type DueSource interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]store.ScheduledRef, error)
	DeferScheduled(ctx context.Context, id, ownerID string, next time.Time) error
}

// Retry delays after a failed scheduled publish: RetryBase doubled per
// attempt, capped at RetryMax.
const (
	RetryBase = 30 * time.Second
	RetryMax  = time.Hour
)

// Publisher pushes one article to the CMS.
type Publisher interface {
	Publish(ctx context.Context, articleID, ownerID string, scheduleAt *time.Time) (*models.Article, error)
}

// Scheduler polls for due articles on a fixed interval.
type Scheduler struct {
	source    DueSource
	publisher Publisher
	interval  time.Duration
	batch     int
	logger    *slog.Logger
	now       func() time.Time
	retryBase time.Duration
	retryMax  time.Duration
}

// New creates a Scheduler. A zero interval disables Run.
func New(source DueSource, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		logger:    logger,
		now:       time.Now,
		retryBase: RetryBase,
		retryMax:  RetryMax,
	}
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		return nil
	}
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// retryDelay returns the wait before attempt number attempts+1.
func (s *Scheduler) retryDelay(attempts int) time.Duration {
	d := s.retryBase
	for i := 1; i < attempts && d < s.retryMax; i++ {
		d *= 2
	}
	return min(d, s.retryMax)
}

// Tick publishes every article due at the current time and returns how many
// were published. A failed article stays scheduled and is deferred with
// exponential backoff, so it cannot hold back the articles behind it.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	due, err := s.source.DueScheduled(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("list due articles", slog.String("error", err.Error()))
		return 0
	}

	published := 0
	for _, ref := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.publisher.Publish(ctx, ref.ID, ref.OwnerID, nil); err != nil {
			attempts := ref.Attempts + 1
			next := now.Add(s.retryDelay(attempts))
			s.logger.Warn("scheduled publish failed",
				slog.String("article", ref.ID),
				slog.String("owner", ref.OwnerID),
				slog.Int("attempts", attempts),
				slog.Time("next_attempt", next),
				slog.String("error", err.Error()),
			)
			if err := s.source.DeferScheduled(context.WithoutCancel(ctx), ref.ID, ref.OwnerID, next); err != nil {
				s.logger.Error("defer scheduled article",
					slog.String("article", ref.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		published++
	}
	if len(due) > 0 {
		s.logger.Info("scheduler tick", slog.Int("due", len(due)), slog.Int("published", published))
	}
	return published
}
