// Package github fetches repository file trees and raw file contents from the
// GitHub REST API.
//
// The client covers exactly the two calls indexing needs: listing a full
// recursive tree for a ref, and downloading one file's raw bytes. Requests
// are rate limited client-side so a large indexing run stays inside GitHub's
// unauthenticated quota.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public GitHub API endpoint.
	DefaultBaseURL = "https://api.github.com"

	// rawHost serves raw file contents by owner/repo/ref/path.
	rawHost = "https://raw.githubusercontent.com"

	requestTimeout = 30 * time.Second

	// Client-side rate limit: 5 requests/sec sustained, burst of 10.
	rateLimit = 5
	rateBurst = 10

	// maxBodySize caps a single raw download read.
	maxBodySize = 10 << 20 // 10 MB
)

// Entry kinds as reported by the tree API.
const (
	KindBlob = "blob"
	KindTree = "tree"
)

// ErrTruncated indicates GitHub returned a partial tree for a very large
// repository.
var ErrTruncated = errors.New("repository tree truncated by GitHub")

// StatusError is returned when GitHub answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github request failed: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// TreeEntry is one node of a repository tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Kind string `json:"type"`
	Size int64  `json:"size"`
	SHA  string `json:"sha"`
	URL  string `json:"url"`
}

// treeResponse mirrors the GET /repos/{owner}/{repo}/git/trees/{ref} payload.
type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Client talks to the GitHub API. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a Client. baseURL empty means the public API; token empty means
// unauthenticated requests.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		token:      token,
		limiter:    rate.NewLimiter(rateLimit, rateBurst),
		logger:     logger,
	}
}

// ListTree returns the full recursive file listing for a ref (branch or
// commit). A non-2xx response is returned as *StatusError.
func (c *Client) ListTree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))

	body, err := c.get(ctx, reqURL, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	var tr treeResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding tree response: %w", err)
	}
	if tr.Truncated {
		// Partial listings would silently drop files from the index.
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrTruncated, owner, repo, ref)
	}

	c.logger.Debug("listed repository tree",
		"owner", owner, "repo", repo, "ref", ref, "entries", len(tr.Tree))
	return tr.Tree, nil
}

// ReadFile downloads raw file bytes from the given URL.
func (c *Client) ReadFile(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, "")
}

// RawURL constructs the raw-content download URL for a file in a repository.
// Every path segment is escaped so paths with spaces or URL metacharacters
// stay fetchable.
func RawURL(owner, repo, ref, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		rawHost, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref),
		escapePath(path))
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (c *Client) get(ctx context.Context, reqURL, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: reqURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
