// Package github implements majordomo.RepoClient over the GitHub REST v3
// API. Multi-file commits go through the Git Data API (blobs are inlined
// into one tree, one commit, one ref update) so a plan's changes land
// atomically on the branch.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giquina/majordomo"
)

const apiBaseURL = "https://api.github.com"

// Client implements majordomo.RepoClient. Projects are "owner/repo".
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

var _ majordomo.RepoClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (default 30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.httpClient = c }
}

// WithBaseURL overrides the API base URL (GitHub Enterprise).
func WithBaseURL(u string) Option {
	return func(g *Client) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Client) { g.logger = l }
}

// New creates a GitHub client authenticated with a personal access token.
func New(token string, opts ...Option) *Client {
	g := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    apiBaseURL,
		token:      token,
		logger:     slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DefaultBranch returns the repository's default branch name.
func (g *Client) DefaultBranch(ctx context.Context, project string) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := g.call(ctx, http.MethodGet, "/repos/"+project, nil, &repo); err != nil {
		return "", fmt.Errorf("github: default branch: %w", err)
	}
	return repo.DefaultBranch, nil
}

// GetFile returns the decoded content of one file on a branch.
func (g *Client) GetFile(ctx context.Context, project, branch, path string) (string, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	p := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", project, escapePath(path), url.QueryEscape(branch))
	if err := g.call(ctx, http.MethodGet, p, nil, &file); err != nil {
		return "", fmt.Errorf("github: get %s: %w", path, err)
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: decode %s: %w", path, err)
	}
	return string(decoded), nil
}

// ListFiles returns the file paths in a directory on a branch.
func (g *Client) ListFiles(ctx context.Context, project, branch, dir string) ([]string, error) {
	var items []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	p := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", project, escapePath(dir), url.QueryEscape(branch))
	if err := g.call(ctx, http.MethodGet, p, nil, &items); err != nil {
		return nil, fmt.Errorf("github: list %s: %w", dir, err)
	}
	var paths []string
	for _, item := range items {
		if item.Type == "file" {
			paths = append(paths, item.Path)
		}
	}
	return paths, nil
}

// CreateBranch creates a branch pointing at the head of fromBranch.
func (g *Client) CreateBranch(ctx context.Context, project, name, fromBranch string) error {
	sha, err := g.branchSHA(ctx, project, fromBranch)
	if err != nil {
		return fmt.Errorf("github: create branch %s: %w", name, err)
	}
	body := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": sha,
	}
	if err := g.call(ctx, http.MethodPost, "/repos/"+project+"/git/refs", body, nil); err != nil {
		return fmt.Errorf("github: create branch %s: %w", name, err)
	}
	return nil
}

// DeleteBranch deletes a branch ref.
func (g *Client) DeleteBranch(ctx context.Context, project, name string) error {
	p := "/repos/" + project + "/git/refs/heads/" + name
	if err := g.call(ctx, http.MethodDelete, p, nil, nil); err != nil {
		return fmt.Errorf("github: delete branch %s: %w", name, err)
	}
	return nil
}

// CommitFiles pushes all file changes onto branch in a single commit via
// the Git Data API. Delete ops remove the path from the tree.
func (g *Client) CommitFiles(ctx context.Context, project, branch, message string, files []majordomo.FileOp) error {
	headSHA, err := g.branchSHA(ctx, project, branch)
	if err != nil {
		return fmt.Errorf("github: commit: head of %s: %w", branch, err)
	}

	var headCommit struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := g.call(ctx, http.MethodGet, "/repos/"+project+"/git/commits/"+headSHA, nil, &headCommit); err != nil {
		return fmt.Errorf("github: commit: read head commit: %w", err)
	}

	type treeEntry struct {
		Path    string  `json:"path"`
		Mode    string  `json:"mode"`
		Type    string  `json:"type"`
		Content *string `json:"content,omitempty"`
		SHA     *string `json:"sha"` // explicit null removes the path
	}
	var entries []treeEntry
	for _, f := range files {
		switch f.Op {
		case "delete":
			entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: nil})
		case "write", "create":
			content := f.Content
			entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", Content: &content})
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("github: commit: no file changes")
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeBody := map[string]any{
		"base_tree": headCommit.Tree.SHA,
		"tree":      entries,
	}
	if err := g.call(ctx, http.MethodPost, "/repos/"+project+"/git/trees", treeBody, &tree); err != nil {
		return fmt.Errorf("github: commit: create tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitBody := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{headSHA},
	}
	if err := g.call(ctx, http.MethodPost, "/repos/"+project+"/git/commits", commitBody, &commit); err != nil {
		return fmt.Errorf("github: commit: create commit: %w", err)
	}

	refBody := map[string]any{"sha": commit.SHA}
	if err := g.call(ctx, http.MethodPatch, "/repos/"+project+"/git/refs/heads/"+branch, refBody, nil); err != nil {
		return fmt.Errorf("github: commit: update ref: %w", err)
	}
	return nil
}

// CreatePullRequest opens a PR from head into base and returns its URL.
func (g *Client) CreatePullRequest(ctx context.Context, project, head, base, title, body string) (string, error) {
	reqBody := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}
	var pr struct {
		HTMLURL string `json:"html_url"`
	}
	if err := g.call(ctx, http.MethodPost, "/repos/"+project+"/pulls", reqBody, &pr); err != nil {
		return "", fmt.Errorf("github: create pull request: %w", err)
	}
	return pr.HTMLURL, nil
}

func (g *Client) branchSHA(ctx context.Context, project, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	p := "/repos/" + project + "/git/refs/heads/" + branch
	if err := g.call(ctx, http.MethodGet, p, nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// call issues one API request. Non-2xx responses become *ErrHTTP so the
// plan executor can distinguish a 404 file read from a hard failure.
func (g *Client) call(ctx context.Context, method, path string, reqBody, result any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &majordomo.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// escapePath escapes each path segment but keeps the separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
