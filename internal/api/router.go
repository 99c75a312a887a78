package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pressroom/internal/store"
)

// Deps are the collaborators behind the API.
type Deps struct {
	Articles  ArticleReader
	Publisher Publisher
	Settings  store.SettingsStore
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events EventStreamer
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(deps Deps, auth AuthConfig, limits RateLimitConfig) chi.Router {
	h := NewHandler(deps.Articles, deps.Publisher, deps.Settings)
	limited := RateLimitMiddleware(limits)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth))

	r.Get("/articles", h.ListArticles)
	r.Post("/articles", h.CreateArticle)
	r.Get("/articles/{id}", h.GetArticle)
	r.With(limited).Post("/articles/{id}/publish", h.PublishArticle)

	r.With(limited).Post("/cms/test-connection", h.TestConnection)

	r.Get("/settings/cms", h.GetCMSSettings)
	r.Put("/settings/cms", h.PutCMSSettings)

	if deps.Events != nil {
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			deps.Events.Stream(w, r, OwnerFrom(r.Context()))
		})
	}

	return r
}
