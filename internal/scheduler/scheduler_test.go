package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/credentials"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/publisher"
	"github.com/starford/pressroom/internal/store"
	"github.com/starford/pressroom/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	refs     []store.ScheduledRef
	err      error
	deferred map[string]time.Time
}

func (s *stubSource) DueScheduled(context.Context, time.Time, int) ([]store.ScheduledRef, error) {
	return s.refs, s.err
}

func (s *stubSource) DeferScheduled(_ context.Context, id, _ string, next time.Time) error {
	if s.deferred == nil {
		s.deferred = make(map[string]time.Time)
	}
	s.deferred[id] = next
	return nil
}

type stubPublisher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (p *stubPublisher) Publish(_ context.Context, id, _ string, scheduleAt *time.Time) (*models.Article, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if scheduleAt != nil {
		return nil, errors.New("scheduler must publish immediately")
	}
	p.calls = append(p.calls, id)
	if err := p.fail[id]; err != nil {
		return nil, err
	}
	return &models.Article{ID: id, Status: models.StatusPublished}, nil
}

func TestTick_ContinuesPastFailures(t *testing.T) {
	src := &stubSource{refs: []store.ScheduledRef{{ID: "a", OwnerID: "o"}, {ID: "b", OwnerID: "o", Attempts: 2}, {ID: "c", OwnerID: "p"}}}
	pub := &stubPublisher{fail: map[string]error{"b": apperr.New(apperr.KindTimeout, "slow")}}
	s := New(src, pub, time.Minute, 10, discard())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if n := s.Tick(context.Background()); n != 2 {
		t.Errorf("published = %d, want 2", n)
	}
	if len(pub.calls) != 3 {
		t.Errorf("calls = %v, want all three", pub.calls)
	}
	if len(src.deferred) != 1 {
		t.Fatalf("deferred = %v, want only b", src.deferred)
	}
	// Third failure waits four times the base delay.
	if got, want := src.deferred["b"], now.Add(4*RetryBase); !got.Equal(want) {
		t.Errorf("b deferred until %v, want %v", got, want)
	}
}

func TestRetryDelay(t *testing.T) {
	s := New(&stubSource{}, &stubPublisher{}, time.Minute, 10, discard())
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, RetryBase},
		{2, 2 * RetryBase},
		{3, 4 * RetryBase},
		{10, RetryMax},
		{100, RetryMax},
	}
	for _, tt := range tests {
		if got := s.retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestTick_SourceError(t *testing.T) {
	pub := &stubPublisher{}
	s := New(&stubSource{err: errors.New("db locked")}, pub, time.Minute, 10, discard())
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("published = %d, want 0", n)
	}
	if len(pub.calls) != 0 {
		t.Errorf("calls = %v", pub.calls)
	}
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	s := New(&stubSource{}, &stubPublisher{}, 0, 10, discard())
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	pub := &stubPublisher{}
	src := &stubSource{refs: []store.ScheduledRef{{ID: "a", OwnerID: "o"}}}
	s := New(src, pub, 10*time.Millisecond, 10, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.calls) == 0 {
		t.Error("expected at least one tick")
	}
}

func TestTick_PublishesDueArticles(t *testing.T) {
	db := testutil.TestStore(t)
	fake := testutil.NewFakeCMS(t, testutil.FakeCMSConfig{})
	ctx := context.Background()
	if err := db.PutCMSSettings(ctx, "alice", fake.Credentials()); err != nil {
		t.Fatal(err)
	}
	orch := publisher.New(db, credentials.NewResolver(db, models.Credentials{}), cms.New(cms.WithLogger(discard())),
		publisher.WithLogger(discard()))

	due, _ := orch.CreateArticle(ctx, "alice", store.NewArticle{Title: "due"})
	later, _ := orch.CreateArticle(ctx, "alice", store.NewArticle{Title: "later"})
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	if _, err := orch.Publish(ctx, due.ID, "alice", &past); err != nil {
		t.Fatalf("schedule due: %v", err)
	}
	if _, err := orch.Publish(ctx, later.ID, "alice", &future); err != nil {
		t.Fatalf("schedule later: %v", err)
	}

	s := New(db, orch, time.Minute, 10, discard())
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("published = %d, want 1", n)
	}

	got, _ := db.GetArticle(ctx, due.ID, "alice")
	if got.Status != models.StatusPublished || got.RemoteRef == nil {
		t.Errorf("due article = %+v", got)
	}
	got, _ = db.GetArticle(ctx, later.ID, "alice")
	if got.Status != models.StatusScheduled {
		t.Errorf("future article status = %q", got.Status)
	}
	if fake.CreateCalls() != 1 {
		t.Errorf("create calls = %d, want 1", fake.CreateCalls())
	}
}

func TestTick_FailingArticleDoesNotStarveOthers(t *testing.T) {
	db := testutil.TestStore(t)
	fake := testutil.NewFakeCMS(t, testutil.FakeCMSConfig{})
	ctx := context.Background()
	if err := db.PutCMSSettings(ctx, "good", fake.Credentials()); err != nil {
		t.Fatal(err)
	}
	orch := publisher.New(db, credentials.NewResolver(db, models.Credentials{}), cms.New(cms.WithLogger(discard())),
		publisher.WithLogger(discard()))

	// "broken" has no credentials, so every attempt fails with not_configured.
	stuck, _ := orch.CreateArticle(ctx, "broken", store.NewArticle{Title: "stuck"})
	ready, _ := orch.CreateArticle(ctx, "good", store.NewArticle{Title: "ready"})
	twoHoursAgo := time.Now().Add(-2 * time.Hour)
	oneHourAgo := time.Now().Add(-time.Hour)
	if _, err := orch.Publish(ctx, stuck.ID, "broken", &twoHoursAgo); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Publish(ctx, ready.ID, "good", &oneHourAgo); err != nil {
		t.Fatal(err)
	}

	s := New(db, orch, time.Minute, 1, discard())
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
	}

	got, _ := db.GetArticle(ctx, ready.ID, "good")
	if got.Status != models.StatusPublished {
		t.Errorf("ready article status = %q, want published", got.Status)
	}
	if fake.CreateCalls() != 1 {
		t.Errorf("create calls = %d, want 1", fake.CreateCalls())
	}

	got, _ = db.GetArticle(ctx, stuck.ID, "broken")
	if got.Status != models.StatusScheduled {
		t.Errorf("stuck article status = %q, want scheduled", got.Status)
	}
	// The failed article backs off instead of being retried every tick.
	due, err := db.DueScheduled(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("due = %+v, want none while backing off", due)
	}
	due, err = db.DueScheduled(ctx, time.Now().Add(RetryBase+time.Second), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != stuck.ID || due[0].Attempts != 1 {
		t.Errorf("due after backoff = %+v, want the stuck article with 1 attempt", due)
	}
}
