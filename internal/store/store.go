package store

import (
	"context"
	"time"

	"github.com/starford/pressroom/internal/models"
)

// ArticleStore is the owner-scoped article persistence used by the
// orchestrator and the transport layers. Consumers depend on this interface
// rather than on *DB.
type ArticleStore interface {
	CreateArticle(ctx context.Context, ownerID string, in NewArticle) (*models.Article, error)
	ListArticles(ctx context.Context, ownerID string) ([]models.Article, error)
	GetArticle(ctx context.Context, id, ownerID string) (*models.Article, error)
	Transition(ctx context.Context, id, ownerID string, to models.Status, f TransitionFields) (*models.Article, error)
	ClaimPublish(ctx context.Context, id, ownerID string, ttl time.Duration) (string, error)
	ReleasePublish(ctx context.Context, id, ownerID, token string) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledRef, error)
	DeferScheduled(ctx context.Context, id, ownerID string, next time.Time) error
}

// SettingsStore holds per-owner CMS credentials.
type SettingsStore interface {
	CMSSettings(ctx context.Context, ownerID string) (models.Credentials, error)
	PutCMSSettings(ctx context.Context, ownerID string, creds models.Credentials) error
}

// ScheduledRef points at a scheduled article that has come due.
type ScheduledRef struct {
	ID          string
	OwnerID     string
	ScheduledAt time.Time
	// Attempts counts failed publish attempts since the article was scheduled.
	Attempts int
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ ArticleStore  = (*DB)(nil)
	_ SettingsStore = (*DB)(nil)
)
