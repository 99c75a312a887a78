// Package cms is the wire adapter for WordPress-compatible REST APIs.
//
// Every failure leaving this package is an *apperr.Error whose kind is one of
// invalid_credentials, insufficient_permissions, site_not_found,
// host_unreachable, timeout or remote_error.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
)

// DefaultTimeout bounds each CMS operation.
const DefaultTimeout = 10 * time.Second

const (
	apiPrefix   = "/wp-json/wp/v2"
	maxBodySize = 1 << 20
)

// Identity is the authenticated CMS user returned by VerifyConnection.
type Identity struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Post is the payload submitted by CreateDraft.
type Post struct {
	Title   string
	Content string
	Excerpt string
	Slug    string
	Tags    []string
}

// Client talks to one CMS per call; credentials are passed per operation.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-operation deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for best-effort warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VerifyConnection reads the current user with the given credentials.
func (c *Client) VerifyConnection(ctx context.Context, creds models.Credentials) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, creds, http.MethodGet, "/users/me", url.Values{"context": {"edit"}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}

	var id Identity
	if err := json.Unmarshal(resp.body, &id); err != nil || id.ID == 0 {
		return nil, apperr.New(apperr.KindRemote, "the site did not return a CMS user; is this a WordPress REST endpoint?")
	}
	return &id, nil
}

// CreateDraft creates a draft post and returns its remote reference.
// Callers verify the connection first; the client does not re-authenticate.
//
// Tag lookups get half of the timeout. When they run out of time the post is
// created with the tags resolved so far.
func (c *Client) CreateDraft(ctx context.Context, creds models.Credentials, post Post) (*models.RemoteRef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tagCtx, cancelTags := context.WithTimeout(ctx, c.timeout/2)
	tagIDs, err := c.resolveTags(tagCtx, creds, post.Tags)
	cancelTags()
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("cms: tag lookup timed out; creating post without the remaining tags",
			slog.Int("resolved", len(tagIDs)),
			slog.Int("requested", len(post.Tags)))
	}

	payload := map[string]any{
		"title":   post.Title,
		"content": post.Content,
		"status":  "draft",
	}
	if post.Excerpt != "" {
		payload["excerpt"] = post.Excerpt
	}
	if post.Slug != "" {
		payload["slug"] = post.Slug
	}
	if len(tagIDs) > 0 {
		payload["tags"] = tagIDs
	}

	resp, err := c.do(ctx, creds, http.MethodPost, "/posts", nil, payload)
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status > 299 {
		return nil, statusError(resp)
	}

	var created struct {
		ID   int64  `json:"id"`
		Link string `json:"link"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil || created.ID == 0 {
		return nil, apperr.New(apperr.KindRemote, "the CMS accepted the post but returned no post id")
	}
	editURL := created.Link
	if editURL == "" {
		editURL = EditURL(creds.Normalize().URL, created.ID)
	}
	return &models.RemoteRef{PostID: created.ID, EditURL: editURL}, nil
}

// EditURL returns the admin edit page for a post.
func EditURL(siteURL string, postID int64) string {
	return strings.TrimRight(siteURL, "/") + "/wp-admin/post.php?post=" + strconv.FormatInt(postID, 10) + "&action=edit"
}

// resolveTags maps tag names to ids, creating missing tags. A tag that cannot
// be resolved is skipped; a timeout stops the lookup and returns the ids
// resolved so far with the error.
func (c *Client) resolveTags(ctx context.Context, creds models.Credentials, names []string) ([]int64, error) {
	var ids []int64
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		id, err := c.tagID(ctx, creds, name)
		if err != nil {
			if errors.Is(err, apperr.ErrTimeout) {
				return ids, err
			}
			c.logger.Warn("cms: skipping tag", slog.String("tag", name), slog.String("error", err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) tagID(ctx context.Context, creds models.Credentials, name string) (int64, error) {
	resp, err := c.do(ctx, creds, http.MethodGet, "/tags", url.Values{"search": {name}, "per_page": {"100"}}, nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, statusError(resp)
	}
	var found []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.body, &found); err != nil {
		return 0, apperr.Wrap(apperr.KindRemote, "unreadable tag list", err)
	}
	for _, t := range found {
		if strings.EqualFold(html.UnescapeString(t.Name), name) {
			return t.ID, nil
		}
	}

	resp, err = c.do(ctx, creds, http.MethodPost, "/tags", nil, map[string]string{"name": name})
	if err != nil {
		return 0, err
	}
	if resp.status >= 200 && resp.status <= 299 {
		var created struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(resp.body, &created); err != nil || created.ID == 0 {
			return 0, apperr.New(apperr.KindRemote, "tag created without id")
		}
		return created.ID, nil
	}
	// Concurrent creation surfaces as term_exists with the existing id.
	if rerr := parseRemoteError(resp.body); rerr.Code == "term_exists" && rerr.Data.TermID != 0 {
		return rerr.Data.TermID, nil
	}
	return 0, statusError(resp)
}

type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, creds models.Credentials, method, path string, query url.Values, payload any) (*response, error) {
	creds = creds.Normalize()
	endpoint, err := endpointURL(creds.URL, path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "encode request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindHostUnreachable, "invalid CMS URL", err)
	}
	req.SetBasicAuth(creds.Username, creds.ApplicationPassword)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	return &response{status: res.StatusCode, body: data}, nil
}

func endpointURL(siteURL, path string) (string, error) {
	u, err := url.Parse(siteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperr.New(apperr.KindHostUnreachable,
			fmt.Sprintf("CMS URL %q is not a valid http(s) URL", siteURL)).
			WithHint("check the URL includes the scheme, e.g. https://blog.example.com")
	}
	return strings.TrimRight(siteURL, "/") + apiPrefix + path, nil
}

// classifyTransport maps a failed round trip to a typed error.
func classifyTransport(ctx context.Context, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return apperr.Wrap(apperr.KindHostUnreachable, "could not resolve host "+dnsErr.Name, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, "the CMS did not respond in time", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindTimeout, "the CMS request was aborted", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindTimeout, "the CMS did not respond in time", err)
	}
	return apperr.Wrap(apperr.KindHostUnreachable, "could not reach the CMS", err)
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int   `json:"status"`
		TermID int64 `json:"term_id"`
	} `json:"data"`
}

func parseRemoteError(body []byte) remoteError {
	var re remoteError
	_ = json.Unmarshal(body, &re)
	return re
}

// statusError maps a non-success HTTP status to a typed error.
func statusError(resp *response) error {
	re := parseRemoteError(resp.body)
	switch resp.status {
	case http.StatusUnauthorized:
		return apperr.New(apperr.KindInvalidCredentials, "the CMS rejected the username or application password")
	case http.StatusForbidden:
		return apperr.New(apperr.KindInsufficientPermissions, "the CMS user is not allowed to create posts")
	case http.StatusNotFound:
		return apperr.New(apperr.KindSiteNotFound, "the CMS REST API was not found at this URL")
	}
	msg := fmt.Sprintf("CMS returned HTTP %d", resp.status)
	if re.Message != "" {
		msg = re.Message
	}
	return apperr.New(apperr.KindRemote, msg)
}
