package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// ArticleReader lists and loads owner-scoped articles.
type ArticleReader interface {
	ListArticles(ctx context.Context, ownerID string) ([]models.Article, error)
	GetArticle(ctx context.Context, id, ownerID string) (*models.Article, error)
}

// Publisher creates, publishes and schedules articles.
type Publisher interface {
	CreateArticle(ctx context.Context, ownerID string, in store.NewArticle) (*models.Article, error)
	Publish(ctx context.Context, articleID, ownerID string, scheduleAt *time.Time) (*models.Article, error)
	TestConnection(ctx context.Context, creds models.Credentials) (*cms.Identity, error)
}

// EventStreamer serves an owner's event stream.
type EventStreamer interface {
	Stream(w http.ResponseWriter, r *http.Request, ownerID string)
}

// Handler holds API route handlers.
type Handler struct {
	articles  ArticleReader
	publisher Publisher
	settings  store.SettingsStore
}

// NewHandler creates a new Handler.
func NewHandler(articles ArticleReader, publisher Publisher, settings store.SettingsStore) *Handler {
	return &Handler{articles: articles, publisher: publisher, settings: settings}
}

// ListArticles handles GET /api/articles.
//
//	@Summary		List the caller's articles in creation order
//	@Tags			articles
//	@Produce		json
//	@Success		200	{object}	ArticleListResponse
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles [get]
func (h *Handler) ListArticles(w http.ResponseWriter, r *http.Request) {
	items, err := h.articles.ListArticles(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArticleListResponse{Articles: items})
}

// GetArticle handles GET /api/articles/{id}.
//
//	@Summary		Get one article
//	@Tags			articles
//	@Produce		json
//	@Param			id	path		string	true	"Article id"
//	@Success		200	{object}	Article
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles/{id} [get]
func (h *Handler) GetArticle(w http.ResponseWriter, r *http.Request) {
	a, err := h.articles.GetArticle(r.Context(), chi.URLParam(r, "id"), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateArticle handles POST /api/articles.
//
//	@Summary		Create an article
//	@Tags			articles
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateArticleRequest	true	"Article to create"
//	@Success		201		{object}	Article
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles [post]
func (h *Handler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	var req CreateArticleRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.publisher.CreateArticle(r.Context(), OwnerFrom(r.Context()), req.toNewArticle())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// PublishArticle handles POST /api/articles/{id}/publish.
//
//	@Summary		Publish an article now, or schedule it when publishAt is set
//	@Tags			articles
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Article id"
//	@Param			body	body		PublishRequest	false	"Optional schedule"
//	@Success		200		{object}	PublishResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Failure		504		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles/{id}/publish [post]
func (h *Handler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.publisher.Publish(r.Context(), chi.URLParam(r, "id"), OwnerFrom(r.Context()), req.PublishAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PublishResponse{Article: *a, RemoteRef: a.RemoteRef})
}

// TestConnection handles POST /api/cms/test-connection.
//
//	@Summary		Verify CMS credentials without storing them
//	@Tags			cms
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TestConnectionRequest	true	"Credentials"
//	@Success		200		{object}	TestConnectionResponse
//	@Failure		400		{object}	TestConnectionResponse
//	@Failure		502		{object}	TestConnectionResponse
//	@Failure		504		{object}	TestConnectionResponse
//	@Security		BearerAuth
//	@Router			/cms/test-connection [post]
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.publisher.TestConnection(r.Context(), models.Credentials{
		URL:                 req.CMSURL,
		Username:            req.Username,
		ApplicationPassword: req.ApplicationPassword,
	})
	if err != nil {
		body := errorBody(err)
		writeJSON(w, statusFor(apperr.KindOf(err)), TestConnectionResponse{
			Success: false,
			Message: body.Message,
			Error:   body.Error,
			Hint:    body.Hint,
		})
		return
	}
	writeJSON(w, http.StatusOK, TestConnectionResponse{
		Success: true,
		Message: fmt.Sprintf("Connected as %s", id.Name),
		User:    id,
	})
}

// GetCMSSettings handles GET /api/settings/cms.
//
//	@Summary		Get the caller's CMS settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	CMSSettingsResponse
//	@Security		BearerAuth
//	@Router			/settings/cms [get]
func (h *Handler) GetCMSSettings(w http.ResponseWriter, r *http.Request) {
	c, err := h.settings.CMSSettings(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse(c))
}

// PutCMSSettings handles PUT /api/settings/cms.
//
//	@Summary		Replace the caller's CMS settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CMSSettingsRequest	true	"Settings"
//	@Success		200		{object}	CMSSettingsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/cms [put]
func (h *Handler) PutCMSSettings(w http.ResponseWriter, r *http.Request) {
	var req CMSSettingsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.CMSURL, validation.By(httpURL)),
	); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, err.Error(), err))
		return
	}

	owner := OwnerFrom(r.Context())
	next := models.Credentials{URL: req.CMSURL, Username: req.Username}
	if req.ApplicationPassword != nil {
		next.ApplicationPassword = *req.ApplicationPassword
	} else {
		cur, err := h.settings.CMSSettings(r.Context(), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ApplicationPassword = cur.ApplicationPassword
	}
	if err := h.settings.PutCMSSettings(r.Context(), owner, next); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("cms settings updated", slog.String("owner", owner))
	writeJSON(w, http.StatusOK, settingsResponse(next.Normalize()))
}

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL including the scheme")
	}
	return nil
}
