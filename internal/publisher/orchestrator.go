// Package publisher moves articles through their lifecycle and pushes them to
// the CMS.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/events"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// DefaultLeaseTTL bounds how long a publish attempt holds the store lease.
const DefaultLeaseTTL = 2 * time.Minute

// ArticleStore is the persistence the orchestrator needs.
type ArticleStore interface {
	CreateArticle(ctx context.Context, ownerID string, in store.NewArticle) (*models.Article, error)
	GetArticle(ctx context.Context, id, ownerID string) (*models.Article, error)
	Transition(ctx context.Context, id, ownerID string, to models.Status, f store.TransitionFields) (*models.Article, error)
	ClaimPublish(ctx context.Context, id, ownerID string, ttl time.Duration) (string, error)
	ReleasePublish(ctx context.Context, id, ownerID, token string) error
}

// CredentialResolver returns the effective CMS credentials of an owner.
type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID string) (models.Credentials, error)
}

// CMSClient is the remote side of a publication.
type CMSClient interface {
	VerifyConnection(ctx context.Context, creds models.Credentials) (*cms.Identity, error)
	CreateDraft(ctx context.Context, creds models.Credentials, post cms.Post) (*models.RemoteRef, error)
}

// Orchestrator is the only component that changes an article's status,
// publishedAt or remote reference.
type Orchestrator struct {
	store    ArticleStore
	creds    CredentialResolver
	cms      CMSClient
	notifier events.Notifier
	logger   *slog.Logger
	leaseTTL time.Duration
	now      func() time.Time
	locks    *keyedLock
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the event sink.
func WithNotifier(n events.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLeaseTTL sets the publish lease duration.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.leaseTTL = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(st ArticleStore, creds CredentialResolver, client CMSClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		creds:    creds,
		cms:      client,
		notifier: events.Nop{},
		logger:   slog.Default(),
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
		locks:    newKeyedLock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateArticle stores a new article and announces it.
func (o *Orchestrator) CreateArticle(ctx context.Context, ownerID string, in store.NewArticle) (*models.Article, error) {
	a, err := o.store.CreateArticle(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, events.ForArticle(events.TypeCreated, a))
	return a, nil
}

// Publish schedules the article when scheduleAt is set, otherwise pushes it
// to the CMS as a draft post and marks it published.
//
// Concurrent calls for one article are serialized; the loser reloads the
// article, finds it published and fails with invalid_transition.
func (o *Orchestrator) Publish(ctx context.Context, articleID, ownerID string, scheduleAt *time.Time) (*models.Article, error) {
	unlock, err := o.locks.Lock(ctx, articleID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "gave up waiting for a concurrent publish of this article", err)
	}
	defer unlock()

	a, err := o.store.GetArticle(ctx, articleID, ownerID)
	if err != nil {
		return nil, err
	}
	if a.Status == models.StatusPublished {
		return nil, apperr.New(apperr.KindInvalidTransition, fmt.Sprintf("article %s is already published", a.ID))
	}

	if scheduleAt != nil {
		updated, err := o.store.Transition(ctx, a.ID, ownerID, models.StatusScheduled, store.TransitionFields{ScheduledAt: scheduleAt})
		if err != nil {
			return nil, err
		}
		o.logger.Info("article scheduled",
			slog.String("article", a.ID),
			slog.String("owner", ownerID),
			slog.Time("scheduled_at", *updated.ScheduledAt),
		)
		o.notify(ctx, events.ForArticle(events.TypeScheduled, updated))
		return updated, nil
	}

	updated, err := o.publishNow(ctx, a)
	if err != nil {
		o.logger.Warn("publish failed",
			slog.String("article", a.ID),
			slog.String("owner", ownerID),
			slog.String("kind", string(apperr.KindOf(err))),
			slog.String("error", err.Error()),
		)
		e := events.ForArticle(events.TypePublishFailed, a)
		e.Error = string(apperr.KindOf(err))
		o.notify(ctx, e)
		return nil, err
	}
	o.logger.Info("article published",
		slog.String("article", a.ID),
		slog.String("owner", ownerID),
		slog.Int64("remote_post_id", updated.RemoteRef.PostID),
	)
	o.notify(ctx, events.ForArticle(events.TypePublished, updated))
	return updated, nil
}

func (o *Orchestrator) publishNow(ctx context.Context, a *models.Article) (*models.Article, error) {
	creds, err := o.creds.Resolve(ctx, a.OwnerID)
	if err != nil {
		return nil, err
	}

	token, err := o.store.ClaimPublish(ctx, a.ID, a.OwnerID, o.leaseTTL)
	if err != nil {
		return nil, err
	}
	done := false
	defer func() {
		if done {
			return
		}
		if err := o.store.ReleasePublish(context.WithoutCancel(ctx), a.ID, a.OwnerID, token); err != nil {
			o.logger.Error("release publish lease", slog.String("article", a.ID), slog.String("error", err.Error()))
		}
	}()

	if _, err := o.cms.VerifyConnection(ctx, creds); err != nil {
		return nil, err
	}
	ref, err := o.cms.CreateDraft(ctx, creds, cms.NewPost(a))
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	updated, err := o.store.Transition(context.WithoutCancel(ctx), a.ID, a.OwnerID, models.StatusPublished, store.TransitionFields{
		PublishedAt: &now,
		RemoteRef:   ref,
		LeaseToken:  token,
	})
	if err != nil {
		// The remote post exists but the article was not updated.
		o.logger.Error("remote draft created but article not marked published",
			slog.String("article", a.ID),
			slog.Int64("remote_post_id", ref.PostID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	done = true
	return updated, nil
}

// TestConnection verifies credentials supplied directly by the caller.
func (o *Orchestrator) TestConnection(ctx context.Context, creds models.Credentials) (*cms.Identity, error) {
	creds = creds.Normalize()
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, apperr.New(apperr.KindValidation, "missing "+strings.Join(missing, ", ")).
			WithHint("provide cmsUrl, username and applicationPassword")
	}
	return o.cms.VerifyConnection(ctx, creds)
}

func (o *Orchestrator) notify(ctx context.Context, e events.Event) {
	if err := o.notifier.Notify(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn("event notification failed",
			slog.String("type", e.Type),
			slog.String("article", e.ArticleID),
			slog.String("error", err.Error()),
		)
	}
}
