package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/content"
	"github.com/starford/pressroom/internal/models"
)

// NewArticle holds the caller-supplied fields of an article at creation.
type NewArticle struct {
	Title       string
	Topic       string
	Slug        string
	Status      models.Status
	ScheduledAt *time.Time
	PublishedAt *time.Time
	RemoteRef   *models.RemoteRef
	ContentHTML string
	WordCount   int
	SEO         models.SEO
}

// Validate checks the creation input.
func (n *NewArticle) Validate() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.Title, validation.Required.Error("title is required"), validation.RuneLength(1, 500)),
		validation.Field(&n.Status, validation.In(models.StatusDraft, models.StatusScheduled, models.StatusPublished).
			Error("status must be one of draft, scheduled, published")),
		validation.Field(&n.WordCount, validation.Min(0)),
	)
}

// TransitionFields carries the values written alongside a status change.
type TransitionFields struct {
	ScheduledAt *time.Time
	PublishedAt *time.Time
	RemoteRef   *models.RemoteRef
	// LeaseToken must match a live publish lease, if one is held.
	LeaseToken string
}

var articleColumns = []string{
	"id", "owner_id", "title", "topic", "slug", "status",
	"scheduled_at", "published_at", "remote_post_id", "remote_edit_url",
	"content_html", "word_count", "seo", "created_at", "updated_at",
	"lease_token", "lease_until",
}

type articleRow struct {
	models.Article
	leaseToken string
	leaseUntil time.Time
}

func (r *articleRow) leasedByOther(token string, now time.Time) bool {
	return r.leaseToken != "" && r.leaseUntil.After(now) && r.leaseToken != token
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(s rowScanner) (*articleRow, error) {
	var (
		r                        articleRow
		status, seo              string
		scheduledAt, publishedAt sql.NullInt64
		remoteID, leaseUntil     sql.NullInt64
		editURL, leaseToken      sql.NullString
		createdAt, updatedAt     int64
	)
	err := s.Scan(
		&r.ID, &r.OwnerID, &r.Title, &r.Topic, &r.Slug, &status,
		&scheduledAt, &publishedAt, &remoteID, &editURL,
		&r.ContentHTML, &r.WordCount, &seo, &createdAt, &updatedAt,
		&leaseToken, &leaseUntil,
	)
	if err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	r.ScheduledAt = fromNullNanos(scheduledAt)
	r.PublishedAt = fromNullNanos(publishedAt)
	if remoteID.Valid {
		r.RemoteRef = &models.RemoteRef{PostID: remoteID.Int64, EditURL: editURL.String}
	}
	if err := json.Unmarshal([]byte(seo), &r.SEO); err != nil {
		return nil, fmt.Errorf("store: decode seo: %w", err)
	}
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	r.leaseToken = leaseToken.String
	if leaseUntil.Valid {
		r.leaseUntil = fromNanos(leaseUntil.Int64)
	}
	return &r, nil
}

// CreateArticle validates and inserts a new article for ownerID.
func (db *DB) CreateArticle(ctx context.Context, ownerID string, in NewArticle) (*models.Article, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperr.New(apperr.KindAuth, "owner is required")
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if in.Status == "" {
		in.Status = models.StatusDraft
	}
	if in.WordCount == 0 {
		in.WordCount = content.WordCount(in.ContentHTML)
	}

	now := time.Now().UTC()
	a := &models.Article{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       in.Title,
		Topic:       strings.TrimSpace(in.Topic),
		Slug:        strings.TrimSpace(in.Slug),
		Status:      in.Status,
		ScheduledAt: utcPtr(in.ScheduledAt),
		PublishedAt: utcPtr(in.PublishedAt),
		RemoteRef:   in.RemoteRef,
		ContentHTML: in.ContentHTML,
		WordCount:   in.WordCount,
		SEO:         in.SEO,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if msg := a.CheckInvariants(); msg != "" {
		return nil, apperr.New(apperr.KindValidation, msg)
	}

	seo, err := json.Marshal(a.SEO)
	if err != nil {
		return nil, fmt.Errorf("store: encode seo: %w", err)
	}
	values := map[string]any{
		"id":           a.ID,
		"owner_id":     a.OwnerID,
		"title":        a.Title,
		"topic":        a.Topic,
		"slug":         a.Slug,
		"status":       string(a.Status),
		"scheduled_at": toNullNanos(a.ScheduledAt),
		"published_at": toNullNanos(a.PublishedAt),
		"content_html": a.ContentHTML,
		"word_count":   a.WordCount,
		"seo":          string(seo),
		"created_at":   now.UnixNano(),
		"updated_at":   now.UnixNano(),
	}
	if a.RemoteRef != nil {
		values["remote_post_id"] = a.RemoteRef.PostID
		values["remote_edit_url"] = a.RemoteRef.EditURL
	}
	query, args, err := db.psql.Insert("articles").SetMap(values).ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build insert: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("store: insert article: %w", err)
	}
	return a, nil
}

// ListArticles returns every article owned by ownerID in insertion order.
func (db *DB) ListArticles(ctx context.Context, ownerID string) ([]models.Article, error) {
	query, args, err := db.psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build list: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list articles: %w", err)
	}
	defer rows.Close()

	out := []models.Article{}
	for rows.Next() {
		r, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan article: %w", err)
		}
		out = append(out, r.Article)
	}
	return out, rows.Err()
}

// GetArticle returns one article. Articles owned by someone else are
// reported as not found.
func (db *DB) GetArticle(ctx context.Context, id, ownerID string) (*models.Article, error) {
	r, err := db.getRow(ctx, db.conn, id, ownerID)
	if err != nil {
		return nil, err
	}
	return &r.Article, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getRow(ctx context.Context, q queryer, id, ownerID string) (*articleRow, error) {
	query, args, err := db.psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build get: %w", err)
	}
	r, err := scanArticle(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("article %s not found", id))
		}
		return nil, fmt.Errorf("store: get article: %w", err)
	}
	return r, nil
}

// allowedTransition reports whether an article may move from one status to another.
func allowedTransition(from, to models.Status) bool {
	switch from {
	case models.StatusDraft:
		return to == models.StatusScheduled || to == models.StatusPublished
	case models.StatusScheduled:
		return to == models.StatusScheduled || to == models.StatusPublished
	}
	return false
}

// Transition moves an article to status to, writing the lifecycle fields in a
// single conditional update on the prior status. A live publish lease held
// under a different token makes the transition fail with a conflict.
func (db *DB) Transition(ctx context.Context, id, ownerID string, to models.Status, f TransitionFields) (*models.Article, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cur, err := db.getRow(ctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}
	from := cur.Status
	if !allowedTransition(from, to) {
		return nil, apperr.New(apperr.KindInvalidTransition,
			fmt.Sprintf("article %s cannot move from %s to %s", id, from, to))
	}
	now := time.Now().UTC()
	if cur.leasedByOther(f.LeaseToken, now) {
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("article %s is being published", id))
	}

	next := cur.Article
	next.Status = to
	next.UpdatedAt = now
	switch to {
	case models.StatusScheduled:
		next.ScheduledAt = utcPtr(f.ScheduledAt)
		next.PublishedAt = nil
		next.RemoteRef = nil
	case models.StatusPublished:
		next.ScheduledAt = nil
		next.PublishedAt = utcPtr(f.PublishedAt)
		next.RemoteRef = f.RemoteRef
	}
	if msg := next.CheckInvariants(); msg != "" {
		return nil, apperr.New(apperr.KindValidation, msg)
	}

	set := map[string]any{
		"status":           string(next.Status),
		"scheduled_at":     toNullNanos(next.ScheduledAt),
		"published_at":     toNullNanos(next.PublishedAt),
		"remote_post_id":   nil,
		"remote_edit_url":  nil,
		"lease_token":      nil,
		"lease_until":      nil,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
		"updated_at":       now.UnixNano(),
	}
	if next.RemoteRef != nil {
		set["remote_post_id"] = next.RemoteRef.PostID
		set["remote_edit_url"] = next.RemoteRef.EditURL
	}
	query, args, err := db.psql.Update("articles").
		SetMap(set).
		Where(sq.Eq{"id": id, "owner_id": ownerID, "status": string(from)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build transition: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: transition article: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("article %s changed concurrently", id))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit transition: %w", err)
	}
	return &next, nil
}

// ClaimPublish takes a publish lease on an unpublished article for ttl and
// returns its token. Published articles fail with invalid_transition; a live
// lease held by another caller fails with conflict.
func (db *DB) ClaimPublish(ctx context.Context, id, ownerID string, ttl time.Duration) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cur, err := db.getRow(ctx, tx, id, ownerID)
	if err != nil {
		return "", err
	}
	if cur.Status == models.StatusPublished {
		return "", apperr.New(apperr.KindInvalidTransition, fmt.Sprintf("article %s is already published", id))
	}
	now := time.Now().UTC()
	if cur.leasedByOther("", now) {
		return "", apperr.New(apperr.KindConflict, fmt.Sprintf("article %s is being published", id))
	}

	token := uuid.NewString()
	query, args, err := db.psql.Update("articles").
		Set("lease_token", token).
		Set("lease_until", now.Add(ttl).UnixNano()).
		Where(sq.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("store: build claim: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("store: claim publish: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit claim: %w", err)
	}
	return token, nil
}

// ReleasePublish drops a publish lease if token still holds it.
func (db *DB) ReleasePublish(ctx context.Context, id, ownerID, token string) error {
	query, args, err := db.psql.Update("articles").
		Set("lease_token", nil).
		Set("lease_until", nil).
		Where(sq.Eq{"id": id, "owner_id": ownerID, "lease_token": token}).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build release: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: release publish: %w", err)
	}
	return nil
}

// DueScheduled lists scheduled articles whose time is at or before now and
// whose retry delay, if any, has passed, across all owners. Articles are
// ordered by when they became eligible: the later of scheduledAt and the
// retry time.
func (db *DB) DueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledRef, error) {
	if limit <= 0 {
		limit = 50
	}
	ts := now.UnixNano()
	query, args, err := db.psql.Select("id", "owner_id", "scheduled_at", "publish_attempts").
		From("articles").
		Where(sq.Eq{"status": string(models.StatusScheduled)}).
		Where(sq.LtOrEq{"scheduled_at": ts}).
		Where(sq.Or{sq.Eq{"next_attempt_at": nil}, sq.LtOrEq{"next_attempt_at": ts}}).
		OrderBy("COALESCE(next_attempt_at, scheduled_at)", "seq").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build due: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: due scheduled: %w", err)
	}
	defer rows.Close()

	var out []ScheduledRef
	for rows.Next() {
		var (
			ref ScheduledRef
			at  int64
		)
		if err := rows.Scan(&ref.ID, &ref.OwnerID, &at, &ref.Attempts); err != nil {
			return nil, fmt.Errorf("store: scan due: %w", err)
		}
		ref.ScheduledAt = fromNanos(at)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// DeferScheduled records a failed publish attempt on a scheduled article and
// keeps it out of DueScheduled until next. Articles that are no longer
// scheduled are left untouched.
func (db *DB) DeferScheduled(ctx context.Context, id, ownerID string, next time.Time) error {
	query, args, err := db.psql.Update("articles").
		Set("publish_attempts", sq.Expr("publish_attempts + 1")).
		Set("next_attempt_at", next.UnixNano()).
		Where(sq.Eq{"id": id, "owner_id": ownerID, "status": string(models.StatusScheduled)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build defer: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: defer scheduled: %w", err)
	}
	return nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func toNullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
