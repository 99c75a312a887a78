package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/starford/pressroom/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}
	m := Multi{a, nil, b}

	err := m.Notify(context.Background(), Event{Type: TypeCreated, ArticleID: "1"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("deliveries = %d, %d, want 1, 1", len(a.events), len(b.events))
	}
	if err := (Multi{}).Notify(context.Background(), Event{}); err != nil {
		t.Errorf("empty multi err = %v", err)
	}
}

func TestForArticle(t *testing.T) {
	ref := &models.RemoteRef{PostID: 5, EditURL: "u"}
	e := ForArticle(TypePublished, &models.Article{ID: "a1", OwnerID: "o1", Status: models.StatusPublished, RemoteRef: ref})
	if e.Type != TypePublished || e.ArticleID != "a1" || e.OwnerID != "o1" || e.RemoteRef != ref {
		t.Errorf("event = %+v", e)
	}
	if e.At.IsZero() {
		t.Error("At not set")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier_EncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaNotifierWithWriter(w, slog.New(slog.NewTextHandler(io.Discard, nil)))
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	err := k.Notify(context.Background(), Event{Type: TypeScheduled, ArticleID: "a1", OwnerID: "o1", At: at})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "a1" {
		t.Errorf("key = %q, want a1", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("time = %v, want %v", msg.Time, at)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != TypeScheduled {
		t.Errorf("headers = %v", msg.Headers)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("value not JSON: %v", err)
	}
	if got["type"] != TypeScheduled || got["ownerId"] != "o1" {
		t.Errorf("value = %v", got)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v, closed = %v", err, w.closed)
	}
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	k := NewKafkaNotifierWithWriter(w, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := k.Notify(context.Background(), Event{Type: TypeCreated}); err == nil {
		t.Fatal("expected error")
	}
}
