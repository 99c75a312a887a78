// Package testutil provides shared test helpers: a temporary store and a fake
// WordPress-compatible CMS.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/secret"
	"github.com/starford/pressroom/internal/store"
)

// TestStore opens a temporary SQLite store that is removed on cleanup.
func TestStore(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "pressroom-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	sealer, err := secret.NewAESGCMSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(dbFile.Name(), sealer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Fake CMS account accepted by FakeCMS.
const (
	CMSUsername = "editor"
	CMSPassword = "abcd efgh ijkl mnop"
)

// FakeCMSConfig controls FakeCMS responses. Zero values mean success.
type FakeCMSConfig struct {
	VerifyStatus int
	CreateStatus int
	// CreateDelay is slept before answering a create call.
	CreateDelay time.Duration
	// TagDelay is slept before answering a tag lookup.
	TagDelay time.Duration
	// OmitLink drops the link field from create responses.
	OmitLink bool
}

// FakeCMS is an httptest server speaking the subset of the WordPress REST API
// the CMS client uses.
type FakeCMS struct {
	Server *httptest.Server
	cfg    FakeCMSConfig

	mu          sync.Mutex
	verifyCalls int
	createCalls int
	nextID      int64
	posts       []map[string]any
	tags        map[string]int64
}

// NewFakeCMS starts a fake CMS closed on cleanup.
func NewFakeCMS(t *testing.T, cfg FakeCMSConfig) *FakeCMS {
	t.Helper()
	if cfg.VerifyStatus == 0 {
		cfg.VerifyStatus = http.StatusOK
	}
	if cfg.CreateStatus == 0 {
		cfg.CreateStatus = http.StatusCreated
	}
	f := &FakeCMS{cfg: cfg, nextID: 42, tags: map[string]int64{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /wp-json/wp/v2/users/me", f.usersMe)
	mux.HandleFunc("POST /wp-json/wp/v2/posts", f.createPost)
	mux.HandleFunc("GET /wp-json/wp/v2/tags", f.listTags)
	mux.HandleFunc("POST /wp-json/wp/v2/tags", f.createTag)

	f.Server = httptest.NewServer(f.authenticate(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// Credentials returns credentials accepted by the fake.
func (f *FakeCMS) Credentials() models.Credentials {
	return models.Credentials{URL: f.Server.URL, Username: CMSUsername, ApplicationPassword: CMSPassword}
}

// VerifyCalls returns the number of users/me requests served.
func (f *FakeCMS) VerifyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

// CreateCalls returns the number of post creation requests served.
func (f *FakeCMS) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// Posts returns the decoded bodies of created posts.
func (f *FakeCMS) Posts() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.posts...)
}

func (f *FakeCMS) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != CMSUsername || pass != CMSPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"code": "invalid_username", "message": "Unknown username.", "data": map[string]int{"status": 401},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeCMS) usersMe(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.cfg.VerifyStatus != http.StatusOK {
		writeJSON(w, f.cfg.VerifyStatus, map[string]any{"code": "rest_error", "message": "verify failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": 7, "name": "Editor", "email": "editor@example.com", "roles": []string{"editor"},
	})
}

func (f *FakeCMS) createPost(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()

	if f.cfg.CreateDelay > 0 {
		select {
		case <-time.After(f.cfg.CreateDelay):
		case <-r.Context().Done():
			return
		}
	}
	if f.cfg.CreateStatus != http.StatusCreated {
		writeJSON(w, f.cfg.CreateStatus, map[string]any{"code": "rest_cannot_create", "message": "Sorry, the database is unavailable."})
		return
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.posts = append(f.posts, body)
	f.mu.Unlock()

	resp := map[string]any{"id": id, "status": "draft"}
	if !f.cfg.OmitLink {
		resp["link"] = fmt.Sprintf("%s/wp-admin/post.php?post=%d&action=edit", f.Server.URL, id)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (f *FakeCMS) listTags(w http.ResponseWriter, r *http.Request) {
	if f.cfg.TagDelay > 0 {
		select {
		case <-time.After(f.cfg.TagDelay):
		case <-r.Context().Done():
			return
		}
	}
	search := strings.ToLower(r.URL.Query().Get("search"))
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []map[string]any{}
	for name, id := range f.tags {
		if strings.Contains(name, search) {
			out = append(out, map[string]any{"id": id, "name": name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeCMS) createTag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(body.Name)
	if id, ok := f.tags[key]; ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code": "term_exists", "message": "A term with the name provided already exists.",
			"data": map[string]any{"status": 400, "term_id": id},
		})
		return
	}
	id := int64(100 + len(f.tags))
	f.tags[key] = id
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": body.Name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
