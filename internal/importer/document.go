// Package importer loads HTML articles with YAML frontmatter from disk and
// creates them in the article store.
package importer

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/content"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// Frontmatter is the metadata block at the top of an import file.
type Frontmatter struct {
	Title         string        `yaml:"title"`
	Topic         string        `yaml:"topic"`
	Slug          string        `yaml:"slug"`
	Status        models.Status `yaml:"status"`
	ScheduledAt   *time.Time    `yaml:"scheduledAt"`
	PublishedAt   *time.Time    `yaml:"publishedAt"`
	RemotePostID  int64         `yaml:"remotePostId"`
	RemoteEditURL string        `yaml:"remoteEditUrl"`
	WordCount     int           `yaml:"wordCount"`
	Tags          []string      `yaml:"tags"`
	SEO           struct {
		MetaTitle       string   `yaml:"metaTitle"`
		MetaDescription string   `yaml:"metaDescription"`
		Slug            string   `yaml:"slug"`
		Keywords        []string `yaml:"keywords"`
	} `yaml:"seo"`
}

// Document is a parsed import file.
type Document struct {
	Meta Frontmatter
	// HTML is the body after the frontmatter block.
	HTML  string
	Title string
}

// Parse splits data into frontmatter and HTML body. A file without a
// frontmatter block is all body. The title falls back to the first h1.
func Parse(data []byte) (*Document, error) {
	block, body := splitFrontmatter(data)

	doc := &Document{HTML: body}
	if block != nil {
		if err := yaml.Unmarshal(block, &doc.Meta); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid frontmatter", err)
		}
	}

	doc.Title = strings.TrimSpace(doc.Meta.Title)
	if doc.Title == "" {
		doc.Title = content.FirstHeading(body)
	}
	return doc, nil
}

// splitFrontmatter separates the YAML block between leading --- lines from
// the body. Without a closing delimiter the whole input is body.
func splitFrontmatter(data []byte) ([]byte, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r\ufeff")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return block, body
}

// NewArticle converts the document into store input. Frontmatter tags are
// merged into the SEO keywords without duplicates.
func (d *Document) NewArticle() store.NewArticle {
	m := d.Meta
	in := store.NewArticle{
		Title:       d.Title,
		Topic:       strings.TrimSpace(m.Topic),
		Slug:        strings.TrimSpace(m.Slug),
		Status:      m.Status,
		ScheduledAt: m.ScheduledAt,
		PublishedAt: m.PublishedAt,
		ContentHTML: d.HTML,
		WordCount:   m.WordCount,
		SEO: models.SEO{
			MetaTitle:       m.SEO.MetaTitle,
			MetaDescription: m.SEO.MetaDescription,
			Slug:            m.SEO.Slug,
			Keywords:        mergeKeywords(m.SEO.Keywords, m.Tags),
		},
	}
	if m.RemotePostID > 0 {
		in.RemoteRef = &models.RemoteRef{PostID: m.RemotePostID, EditURL: m.RemoteEditURL}
	}
	return in
}

func mergeKeywords(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, k := range list {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			key := strings.ToLower(k)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
