package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/secret"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "pressroom-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	sealer, err := secret.NewAESGCMSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(f.Name(), sealer)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var ctx = context.Background()

func mustCreate(t *testing.T, db *DB, owner, title string) *models.Article {
	t.Helper()
	a, err := db.CreateArticle(ctx, owner, NewArticle{Title: title})
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	return a
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM articles`).Scan(&count); err != nil {
		t.Fatalf("articles table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM cms_settings`).Scan(&count); err != nil {
		t.Fatalf("cms_settings table missing: %v", err)
	}
}

func TestCreateArticle_DefaultsToDraft(t *testing.T) {
	db := testDB(t)
	a, err := db.CreateArticle(ctx, "alice", NewArticle{
		Title:       "  Hello  ",
		ContentHTML: "<p>one two three</p>",
		SEO:         models.SEO{MetaTitle: "Hello", Keywords: []string{"go"}},
	})
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	if a.Status != models.StatusDraft {
		t.Errorf("status = %q, want draft", a.Status)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Errorf("id/createdAt not assigned: %+v", a)
	}
	if a.Title != "Hello" {
		t.Errorf("title = %q", a.Title)
	}
	if a.WordCount != 3 {
		t.Errorf("word count = %d, want 3", a.WordCount)
	}

	got, err := db.GetArticle(ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if got.Title != "Hello" || got.SEO.MetaTitle != "Hello" || len(got.SEO.Keywords) != 1 {
		t.Errorf("stored article = %+v", got)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("createdAt = %v, want %v", got.CreatedAt, a.CreatedAt)
	}
}

func TestCreateArticle_Validation(t *testing.T) {
	db := testDB(t)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name string
		in   NewArticle
	}{
		{"missing title", NewArticle{}},
		{"blank title", NewArticle{Title: "   "}},
		{"unknown status", NewArticle{Title: "x", Status: "archived"}},
		{"scheduled without time", NewArticle{Title: "x", Status: models.StatusScheduled}},
		{"published without ref", NewArticle{Title: "x", Status: models.StatusPublished, PublishedAt: &past}},
		{"negative word count", NewArticle{Title: "x", WordCount: -1}},
	}
	for _, tc := range cases {
		_, err := db.CreateArticle(ctx, "alice", tc.in)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: err = %v, want validation error", tc.name, err)
		}
	}

	list, _ := db.ListArticles(ctx, "alice")
	if len(list) != 0 {
		t.Errorf("rejected creates persisted %d rows", len(list))
	}
}

func TestCreateArticle_AcceptsConsistentStatuses(t *testing.T) {
	db := testDB(t)
	at := time.Now().Add(time.Hour)
	a, err := db.CreateArticle(ctx, "alice", NewArticle{Title: "later", Status: models.StatusScheduled, ScheduledAt: &at})
	if err != nil {
		t.Fatalf("scheduled create: %v", err)
	}
	if a.Status != models.StatusScheduled || a.ScheduledAt == nil {
		t.Errorf("article = %+v", a)
	}

	ref := &models.RemoteRef{PostID: 9, EditURL: "https://x/wp-admin/post.php?post=9&action=edit"}
	p, err := db.CreateArticle(ctx, "alice", NewArticle{Title: "imported", Status: models.StatusPublished, PublishedAt: &at, RemoteRef: ref})
	if err != nil {
		t.Fatalf("published create: %v", err)
	}
	got, _ := db.GetArticle(ctx, p.ID, "alice")
	if got.RemoteRef == nil || got.RemoteRef.PostID != 9 {
		t.Errorf("remote ref = %+v", got.RemoteRef)
	}
}

func TestListArticles_OwnerScopedInsertionOrder(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "alice", "first")
	mustCreate(t, db, "bob", "bobs")
	mustCreate(t, db, "alice", "second")
	mustCreate(t, db, "alice", "third")

	list, err := db.ListArticles(ctx, "alice")
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Title != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Title, want)
		}
	}

	empty, err := db.ListArticles(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %v, %v", empty, err)
	}
}

func TestGetArticle_OtherOwnerIsNotFound(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "mine")
	if _, err := db.GetArticle(ctx, a.ID, "mallory"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := db.GetArticle(ctx, "missing", "alice"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestTransition_DraftToScheduledToPublished(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "flow")
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &at})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.Status != models.StatusScheduled || !s.ScheduledAt.Equal(at) || s.RemoteRef != nil {
		t.Errorf("scheduled = %+v", s)
	}

	now := time.Now()
	ref := &models.RemoteRef{PostID: 42, EditURL: "https://site/wp-admin/post.php?post=42&action=edit"}
	p, err := db.Transition(ctx, a.ID, "alice", models.StatusPublished, TransitionFields{PublishedAt: &now, RemoteRef: ref})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if p.Status != models.StatusPublished || p.PublishedAt == nil || p.RemoteRef == nil || p.ScheduledAt != nil {
		t.Errorf("published = %+v", p)
	}

	got, _ := db.GetArticle(ctx, a.ID, "alice")
	if msg := got.CheckInvariants(); msg != "" {
		t.Errorf("stored article violates invariant: %s", msg)
	}
	if *got.RemoteRef != *ref {
		t.Errorf("remote ref = %+v, want %+v", got.RemoteRef, ref)
	}
}

func TestTransition_Rejections(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "x")
	now := time.Now()
	ref := &models.RemoteRef{PostID: 1, EditURL: "u"}

	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusDraft, TransitionFields{}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("draft->draft err = %v", err)
	}
	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusPublished, TransitionFields{PublishedAt: &now}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("publish without ref err = %v", err)
	}
	if _, err := db.Transition(ctx, a.ID, "bob", models.StatusScheduled, TransitionFields{ScheduledAt: &now}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign owner err = %v", err)
	}

	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusPublished, TransitionFields{PublishedAt: &now, RemoteRef: ref}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, to := range []models.Status{models.StatusDraft, models.StatusScheduled, models.StatusPublished} {
		_, err := db.Transition(ctx, a.ID, "alice", to, TransitionFields{ScheduledAt: &now, PublishedAt: &now, RemoteRef: ref})
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Errorf("published->%s err = %v, want invalid transition", to, err)
		}
	}
}

func TestClaimPublish(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "lease")

	token, err := db.ClaimPublish(ctx, a.ID, "alice", time.Minute)
	if err != nil {
		t.Fatalf("ClaimPublish: %v", err)
	}
	if _, err := db.ClaimPublish(ctx, a.ID, "alice", time.Minute); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second claim err = %v, want conflict", err)
	}

	now := time.Now()
	ref := &models.RemoteRef{PostID: 1, EditURL: "u"}
	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusPublished, TransitionFields{PublishedAt: &now, RemoteRef: ref, LeaseToken: "wrong"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("transition with wrong token err = %v, want conflict", err)
	}
	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusPublished, TransitionFields{PublishedAt: &now, RemoteRef: ref, LeaseToken: token}); err != nil {
		t.Fatalf("transition with token: %v", err)
	}
	if _, err := db.ClaimPublish(ctx, a.ID, "alice", time.Minute); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("claim after publish err = %v, want invalid transition", err)
	}
}

func TestClaimPublish_ReleaseAndExpiry(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "lease")

	token, err := db.ClaimPublish(ctx, a.ID, "alice", time.Minute)
	if err != nil {
		t.Fatalf("ClaimPublish: %v", err)
	}
	if err := db.ReleasePublish(ctx, a.ID, "alice", token); err != nil {
		t.Fatalf("ReleasePublish: %v", err)
	}
	if _, err := db.ClaimPublish(ctx, a.ID, "alice", time.Millisecond); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := db.ClaimPublish(ctx, a.ID, "alice", time.Minute); err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
}

func TestDueScheduled(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	past := now.Add(-time.Hour)
	older := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)

	a := mustCreate(t, db, "alice", "due")
	b := mustCreate(t, db, "bob", "older")
	c := mustCreate(t, db, "alice", "future")
	mustCreate(t, db, "alice", "draft")
	_, _ = db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &past})
	_, _ = db.Transition(ctx, b.ID, "bob", models.StatusScheduled, TransitionFields{ScheduledAt: &older})
	_, _ = db.Transition(ctx, c.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &future})

	due, err := db.DueScheduled(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueScheduled: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %+v, want 2", due)
	}
	if due[0].ID != b.ID || due[0].OwnerID != "bob" || due[1].ID != a.ID {
		t.Errorf("due order = %+v", due)
	}
}

func TestDeferScheduled_HidesUntilNextAttempt(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	older := now.Add(-2 * time.Hour)
	past := now.Add(-time.Hour)

	a := mustCreate(t, db, "alice", "failing")
	b := mustCreate(t, db, "bob", "healthy")
	_, _ = db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &older})
	_, _ = db.Transition(ctx, b.ID, "bob", models.StatusScheduled, TransitionFields{ScheduledAt: &past})

	next := now.Add(time.Minute)
	if err := db.DeferScheduled(ctx, a.ID, "alice", next); err != nil {
		t.Fatalf("DeferScheduled: %v", err)
	}

	due, err := db.DueScheduled(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != b.ID {
		t.Fatalf("due = %+v, want only the healthy article", due)
	}

	due, err = db.DueScheduled(ctx, next, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != b.ID || due[1].ID != a.ID {
		t.Fatalf("due after next = %+v, want healthy then deferred", due)
	}
	if due[1].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", due[1].Attempts)
	}

	if err := db.DeferScheduled(ctx, a.ID, "alice", next); err != nil {
		t.Fatal(err)
	}
	due, _ = db.DueScheduled(ctx, next, 10)
	if len(due) != 2 || due[1].Attempts != 2 {
		t.Errorf("due = %+v, want second attempt recorded", due)
	}

	// Rescheduling starts the retry count over.
	_, _ = db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &past})
	due, _ = db.DueScheduled(ctx, now, 10)
	if len(due) != 2 {
		t.Fatalf("due after reschedule = %+v, want 2", due)
	}
	for _, ref := range due {
		if ref.Attempts != 0 {
			t.Errorf("%s attempts = %d, want 0", ref.ID, ref.Attempts)
		}
	}
}

func TestDeferScheduled_IgnoresNonScheduled(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "alice", "draft")
	if err := db.DeferScheduled(ctx, a.ID, "alice", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("DeferScheduled: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	_, _ = db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &past})
	due, _ := db.DueScheduled(ctx, time.Now(), 10)
	if len(due) != 1 || due[0].Attempts != 0 {
		t.Errorf("due = %+v, want the article with no attempts", due)
	}
}

func TestOpen_AddsRetryColumnsToOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Exec(`CREATE TABLE articles (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		slug TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		scheduled_at INTEGER,
		published_at INTEGER,
		remote_post_id INTEGER,
		remote_edit_url TEXT,
		content_html TEXT NOT NULL DEFAULT '',
		word_count INTEGER NOT NULL DEFAULT 0,
		seo TEXT NOT NULL DEFAULT '{}',
		lease_token TEXT,
		lease_until INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	a := mustCreate(t, db, "alice", "legacy")
	past := time.Now().Add(-time.Minute)
	if _, err := db.Transition(ctx, a.ID, "alice", models.StatusScheduled, TransitionFields{ScheduledAt: &past}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeferScheduled(ctx, a.ID, "alice", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("DeferScheduled on migrated db: %v", err)
	}
	if due, _ := db.DueScheduled(ctx, time.Now(), 10); len(due) != 0 {
		t.Errorf("due = %+v, want none", due)
	}
}

func TestCMSSettings_PlainRowAfterKeyIsSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	plain, err := Open(path, secret.Plain{})
	if err != nil {
		t.Fatal(err)
	}
	in := models.Credentials{URL: "https://blog.example.com", Username: "alice", ApplicationPassword: "abcd efgh"}
	if err := plain.PutCMSSettings(ctx, "alice", in); err != nil {
		t.Fatal(err)
	}
	plain.Close()

	sealer, err := secret.NewAESGCMSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(path, sealer)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.CMSSettings(ctx, "alice")
	if apperr.KindOf(err) != apperr.KindNotConfigured {
		t.Fatalf("kind = %q (err %v), want not_configured", apperr.KindOf(err), err)
	}
	if hint := apperr.HintOf(err); !strings.Contains(hint, "application password") {
		t.Errorf("hint = %q, want a prompt to re-enter the application password", hint)
	}

	// Saving again seals the password with the new key.
	if err := db.PutCMSSettings(ctx, "alice", in); err != nil {
		t.Fatal(err)
	}
	got, err := db.CMSSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("CMSSettings after re-save: %v", err)
	}
	if got.ApplicationPassword != in.ApplicationPassword {
		t.Errorf("password = %q", got.ApplicationPassword)
	}
}

func TestCMSSettings_RoundTripSealed(t *testing.T) {
	db := testDB(t)

	empty, err := db.CMSSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("CMSSettings (none): %v", err)
	}
	if empty != (models.Credentials{}) {
		t.Errorf("expected zero credentials, got %+v", empty)
	}

	in := models.Credentials{URL: "https://blog.example.com/", Username: "alice", ApplicationPassword: "abcd efgh"}
	if err := db.PutCMSSettings(ctx, "alice", in); err != nil {
		t.Fatalf("PutCMSSettings: %v", err)
	}
	got, err := db.CMSSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("CMSSettings: %v", err)
	}
	want := models.Credentials{URL: "https://blog.example.com", Username: "alice", ApplicationPassword: "abcd efgh"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	var raw string
	_ = db.conn.QueryRow(`SELECT app_password FROM cms_settings WHERE owner_id = ?`, "alice").Scan(&raw)
	if raw == "abcd efgh" || raw == "" {
		t.Errorf("password stored unsealed: %q", raw)
	}

	if err := db.PutCMSSettings(ctx, "alice", models.Credentials{URL: "https://other.example.com"}); err != nil {
		t.Fatalf("PutCMSSettings (update): %v", err)
	}
	got, _ = db.CMSSettings(ctx, "alice")
	if got.URL != "https://other.example.com" || got.ApplicationPassword != "" {
		t.Errorf("updated settings = %+v", got)
	}
}
