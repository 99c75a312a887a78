package api

import (
	"time"

	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// Article is the article response type (aliased from the domain layer).
type Article = models.Article

// ArticleListResponse wraps an owner's articles.
type ArticleListResponse struct {
	Articles []Article `json:"articles" validate:"required"`
}

// CreateArticleRequest is the request body for creating an article.
type CreateArticleRequest struct {
	Title       string            `json:"title" example:"Ten tips for faster builds" validate:"required"`
	Topic       string            `json:"topic,omitempty" example:"tooling"`
	Slug        string            `json:"slug,omitempty" example:"faster-builds"`
	Status      models.Status     `json:"status,omitempty" example:"draft" enums:"draft,scheduled,published"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	PublishedAt *time.Time        `json:"publishedAt,omitempty"`
	RemoteRef   *models.RemoteRef `json:"remoteRef,omitempty"`
	ContentHTML string            `json:"contentHtml,omitempty" example:"<p>Hello</p>"`
	WordCount   int               `json:"wordCount,omitempty" example:"850"`
	SEO         models.SEO        `json:"seo"`
}

func (c CreateArticleRequest) toNewArticle() store.NewArticle {
	return store.NewArticle{
		Title:       c.Title,
		Topic:       c.Topic,
		Slug:        c.Slug,
		Status:      c.Status,
		ScheduledAt: c.ScheduledAt,
		PublishedAt: c.PublishedAt,
		RemoteRef:   c.RemoteRef,
		ContentHTML: c.ContentHTML,
		WordCount:   c.WordCount,
		SEO:         c.SEO,
	}
}

// PublishRequest is the optional body of a publish call. A publishAt value
// schedules the article instead of publishing it now.
type PublishRequest struct {
	PublishAt *time.Time `json:"publishAt,omitempty" example:"2030-01-02T15:04:05Z"`
}

// PublishResponse is returned after a publish or schedule.
type PublishResponse struct {
	Article   Article           `json:"article" validate:"required"`
	RemoteRef *models.RemoteRef `json:"remoteRef,omitempty"`
}

// TestConnectionRequest carries credentials to verify.
type TestConnectionRequest struct {
	CMSURL              string `json:"cmsUrl" example:"https://blog.example.com" validate:"required"`
	Username            string `json:"username" example:"editor" validate:"required"`
	ApplicationPassword string `json:"applicationPassword" example:"abcd efgh ijkl mnop" validate:"required"`
}

// TestConnectionResponse reports the outcome of a connection test.
type TestConnectionResponse struct {
	Success bool          `json:"success" validate:"required"`
	Message string        `json:"message" validate:"required"`
	User    *cms.Identity `json:"user,omitempty"`
	Error   string        `json:"error,omitempty" example:"invalid_credentials"`
	Hint    string        `json:"hint,omitempty"`
}

// CMSSettingsRequest updates the caller's CMS settings. Omitting
// applicationPassword keeps the stored one; an empty string clears it.
type CMSSettingsRequest struct {
	CMSURL              string  `json:"cmsUrl" example:"https://blog.example.com"`
	Username            string  `json:"username" example:"editor"`
	ApplicationPassword *string `json:"applicationPassword,omitempty"`
}

// CMSSettingsResponse never includes the application password.
type CMSSettingsResponse struct {
	CMSURL                 string `json:"cmsUrl"`
	Username               string `json:"username"`
	HasApplicationPassword bool   `json:"hasApplicationPassword"`
}

func settingsResponse(c models.Credentials) CMSSettingsResponse {
	return CMSSettingsResponse{
		CMSURL:                 c.URL,
		Username:               c.Username,
		HasApplicationPassword: c.ApplicationPassword != "",
	}
}
