// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes pressroom's article tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// Articles lists and loads owner-scoped articles.
type Articles interface {
	ListArticles(ctx context.Context, ownerID string) ([]models.Article, error)
	GetArticle(ctx context.Context, id, ownerID string) (*models.Article, error)
}

// Publisher creates, publishes and verifies.
type Publisher interface {
	CreateArticle(ctx context.Context, ownerID string, in store.NewArticle) (*models.Article, error)
	Publish(ctx context.Context, articleID, ownerID string, scheduleAt *time.Time) (*models.Article, error)
	TestConnection(ctx context.Context, creds models.Credentials) (*cms.Identity, error)
}

// CredentialResolver returns an owner's effective CMS credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID string) (models.Credentials, error)
}

// Server wraps the MCP server with pressroom tools. Every tool acts as a
// single configured owner.
type Server struct {
	mcp       *server.MCPServer
	articles  Articles
	publisher Publisher
	creds     CredentialResolver
	owner     string
}

// New creates a new MCP server with all tools registered.
func New(articles Articles, publisher Publisher, creds CredentialResolver, ownerID, version string) *Server {
	s := &Server{articles: articles, publisher: publisher, creds: creds, owner: ownerID}

	s.mcp = server.NewMCPServer(
		"Pressroom",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_articles",
		mcp.WithDescription("List all articles with their status and remote post reference."),
	), s.listArticles)

	s.mcp.AddTool(mcp.NewTool("get_article",
		mcp.WithDescription("Read one article including its HTML content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Article id")),
	), s.getArticle)

	s.mcp.AddTool(mcp.NewTool("create_article",
		mcp.WithDescription("Create a draft article. Read the field guide first via the "+
			"get_article_guide tool or the pressroom://article-guide resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Article title")),
		mcp.WithString("contentHtml", mcp.Description("Article body as HTML")),
		mcp.WithString("topic", mcp.Description("Topic or category")),
		mcp.WithString("slug", mcp.Description("URL slug")),
		mcp.WithString("metaTitle", mcp.Description("SEO title")),
		mcp.WithString("metaDescription", mcp.Description("SEO description, used as the post excerpt")),
		mcp.WithString("keywords", mcp.Description("Comma-separated SEO keywords, sent as post tags")),
	), s.createArticle)

	s.mcp.AddTool(mcp.NewTool("publish_article",
		mcp.WithDescription("Push an article to the CMS as a draft post now, or schedule it "+
			"when publishAt is given. Published articles cannot be published again."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Article id")),
		mcp.WithString("publishAt", mcp.Description("Optional RFC 3339 time to schedule the publication")),
	), s.publishArticle)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Verify CMS credentials. Without arguments the configured credentials are tested."),
		mcp.WithString("cmsUrl", mcp.Description("Site URL including https://")),
		mcp.WithString("username", mcp.Description("CMS username")),
		mcp.WithString("applicationPassword", mcp.Description("CMS application password")),
	), s.testConnection)

	s.mcp.AddTool(mcp.NewTool("get_article_guide",
		mcp.WithDescription("Returns the article field guide and lifecycle rules."),
	), s.getArticleGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Article Guide",
			mcp.WithResourceDescription("Article fields, lifecycle and publishing rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError renders err with its kind and hint.
func toolError(err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %s", apperr.KindOf(err), err.Error())
	if hint := apperr.HintOf(err); hint != "" {
		msg += " (hint: " + hint + ")"
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func optString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func (s *Server) listArticles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.articles.ListArticles(ctx, s.owner)
	if err != nil {
		return toolError(err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no articles"), nil
	}
	var b strings.Builder
	for _, a := range items {
		fmt.Fprintf(&b, "%s\t%s\t%s", a.ID, a.Status, a.Title)
		if a.RemoteRef != nil {
			fmt.Fprintf(&b, "\tpost %d", a.RemoteRef.PostID)
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) getArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.articles.GetArticle(ctx, id, s.owner)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(a), nil
}

func (s *Server) createArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := store.NewArticle{
		Title:       title,
		Topic:       optString(req, "topic"),
		Slug:        optString(req, "slug"),
		ContentHTML: optString(req, "contentHtml"),
		SEO: models.SEO{
			MetaTitle:       optString(req, "metaTitle"),
			MetaDescription: optString(req, "metaDescription"),
			Keywords:        splitKeywords(optString(req, "keywords")),
		},
	}
	a, err := s.publisher.CreateArticle(ctx, s.owner, in)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", a.ID)), nil
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (s *Server) publishArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var at *time.Time
	if raw := optString(req, "publishAt"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("publishAt must be RFC 3339: %v", err)), nil
		}
		at = &t
	}
	a, err := s.publisher.Publish(ctx, id, s.owner, at)
	if err != nil {
		return toolError(err), nil
	}
	if a.Status == models.StatusScheduled {
		return mcp.NewToolResultText(fmt.Sprintf("scheduled: %s at %s", a.ID, a.ScheduledAt.Format(time.RFC3339))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("published: %s as post %d, edit at %s",
		a.ID, a.RemoteRef.PostID, a.RemoteRef.EditURL)), nil
}

func (s *Server) testConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	creds := models.Credentials{
		URL:                 optString(req, "cmsUrl"),
		Username:            optString(req, "username"),
		ApplicationPassword: optString(req, "applicationPassword"),
	}
	if creds == (models.Credentials{}) {
		resolved, err := s.creds.Resolve(ctx, s.owner)
		if err != nil {
			return toolError(err), nil
		}
		creds = resolved
	}
	id, err := s.publisher.TestConnection(ctx, creds)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("connected as %s (id %d)", id.Name, id.ID)), nil
}

func (s *Server) getArticleGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArticleGuide), nil
}

func (s *Server) readGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     ArticleGuide,
		},
	}, nil
}
