// Package models defines the domain types for pressroom.
package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an article.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished:
		return true
	}
	return false
}

// SEO is search metadata passed through to the CMS.
type SEO struct {
	MetaTitle       string   `json:"metaTitle,omitempty"`
	MetaDescription string   `json:"metaDescription,omitempty"`
	Slug            string   `json:"slug,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

// RemoteRef identifies a post created on the CMS.
type RemoteRef struct {
	PostID  int64  `json:"remotePostId"`
	EditURL string `json:"remoteEditUrl"`
}

// Article is an owner-scoped blog article.
type Article struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Topic       string     `json:"topic,omitempty"`
	Slug        string     `json:"slug,omitempty"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	RemoteRef   *RemoteRef `json:"remoteRef,omitempty"`
	ContentHTML string     `json:"contentHtml,omitempty"`
	WordCount   int        `json:"wordCount"`
	SEO         SEO        `json:"seo"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CheckInvariants reports which lifecycle invariant a, if any, violates.
// An empty string means the article is consistent.
func (a *Article) CheckInvariants() string {
	switch a.Status {
	case StatusPublished:
		if a.PublishedAt == nil {
			return "published article requires publishedAt"
		}
		if a.RemoteRef == nil {
			return "published article requires a remote reference"
		}
	case StatusScheduled:
		if a.ScheduledAt == nil {
			return "scheduled article requires scheduledAt"
		}
		if a.RemoteRef != nil {
			return "scheduled article must not have a remote reference"
		}
	case StatusDraft:
		if a.PublishedAt != nil || a.RemoteRef != nil {
			return "draft article must not carry publication data"
		}
	default:
		return "unknown status " + string(a.Status)
	}
	return ""
}

// Credentials address one CMS account. Any field may be blank.
type Credentials struct {
	URL                 string `json:"cmsUrl"`
	Username            string `json:"username"`
	ApplicationPassword string `json:"applicationPassword"`
}

// Normalize trims whitespace from every field and the URL's trailing slashes.
func (c Credentials) Normalize() Credentials {
	return Credentials{
		URL:                 strings.TrimRight(strings.TrimSpace(c.URL), "/"),
		Username:            strings.TrimSpace(c.Username),
		ApplicationPassword: strings.TrimSpace(c.ApplicationPassword),
	}
}

// Missing returns the names of blank fields.
func (c Credentials) Missing() []string {
	var out []string
	if strings.TrimSpace(c.URL) == "" {
		out = append(out, "cmsUrl")
	}
	if strings.TrimSpace(c.Username) == "" {
		out = append(out, "username")
	}
	if strings.TrimSpace(c.ApplicationPassword) == "" {
		out = append(out, "applicationPassword")
	}
	return out
}
