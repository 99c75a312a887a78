// Package events carries article lifecycle notifications to subscribers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/starford/pressroom/internal/models"
)

// Event types.
const (
	TypeCreated       = "article.created"
	TypeScheduled     = "article.scheduled"
	TypePublished     = "article.published"
	TypePublishFailed = "article.publish_failed"
)

// Event describes one change to an article.
type Event struct {
	Type        string            `json:"type"`
	ArticleID   string            `json:"articleId"`
	OwnerID     string            `json:"ownerId"`
	Status      models.Status     `json:"status,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	RemoteRef   *models.RemoteRef `json:"remoteRef,omitempty"`
	Error       string            `json:"error,omitempty"`
	At          time.Time         `json:"at"`
}

// ForArticle builds an event of type typ from the current state of a.
func ForArticle(typ string, a *models.Article) Event {
	return Event{
		Type:        typ,
		ArticleID:   a.ID,
		OwnerID:     a.OwnerID,
		Status:      a.Status,
		ScheduledAt: a.ScheduledAt,
		RemoteRef:   a.RemoteRef,
		At:          time.Now().UTC(),
	}
}

// Notifier receives events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several notifiers. Every notifier is called even
// when an earlier one fails; the failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
