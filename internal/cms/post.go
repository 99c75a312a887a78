package cms

import (
	"strings"

	"github.com/starford/pressroom/internal/content"
	"github.com/starford/pressroom/internal/models"
)

// NewPost derives the CMS payload from an article.
// The excerpt prefers the SEO meta description over the opening words of the
// body; the slug prefers the SEO slug over the article slug.
func NewPost(a *models.Article) Post {
	title := strings.TrimSpace(a.Title)
	excerpt := strings.TrimSpace(a.SEO.MetaDescription)
	if excerpt == "" {
		excerpt = content.Excerpt(a.ContentHTML, content.DefaultExcerptWords)
	}
	slug := strings.TrimSpace(a.SEO.Slug)
	if slug == "" {
		slug = strings.TrimSpace(a.Slug)
	}
	return Post{
		Title:   title,
		Content: a.ContentHTML,
		Excerpt: excerpt,
		Slug:    slug,
		Tags:    a.SEO.Keywords,
	}
}
