// Package client is the programmatic admin console: a bearer-token client
// for the curation API with an explicit session lifecycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

const (
	requestTimeout = 30 * time.Second
	pollInterval   = 2 * time.Second
	pollAttempts   = 150
)

// Session holds the bearer token. It is set on login and cleared on logout
// or on any 401, after which calls fail until the next login.
type Session struct {
	mu    sync.Mutex
	token string
}

func (s *Session) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Session) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Clear drops the token.
func (s *Session) Clear() { s.set("") }

// Active reports whether a token is held.
func (s *Session) Active() bool { return s.get() != "" }

// Client talks to the admin API of one server.
type Client struct {
	baseURL      string
	session      *Session
	http         *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		session:      &Session{},
		http:         &http.Client{Timeout: requestTimeout},
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// Session exposes the client's session for inspection.
func (c *Client) Session() *Session { return c.session }

// do sends one JSON request. A 401 clears the session before the error
// returns, mirroring the forced-logout rule.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.session.get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.session.Clear()
		return fmt.Errorf("%s %s: unauthorized", method, path)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Login exchanges the password for a session token.
func (c *Client) Login(ctx context.Context, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/login", map[string]string{"password": password}, &resp)
	if err != nil {
		return err
	}
	c.session.set(resp.Token)
	return nil
}

// Logout invalidates the server session and drops the token regardless of
// the outcome.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/admin/logout", nil, nil)
	c.session.Clear()
	return err
}

func (c *Client) Others(ctx context.Context) ([]storage.CuratedFeature, error) {
	var resp struct {
		Features []storage.CuratedFeature `json:"features"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/others", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Features, nil
}

func (c *Client) Untagged(ctx context.Context) ([]storage.CuratedFeature, error) {
	var resp struct {
		Features []storage.CuratedFeature `json:"features"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/untagged", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Features, nil
}

func (c *Client) Tags(ctx context.Context) (domain.Taxonomy, error) {
	var tax domain.Taxonomy
	err := c.do(ctx, http.MethodGet, "/api/admin/tags", nil, &tax)
	return tax, err
}

func (c *Client) UsedSubtags(ctx context.Context) ([]string, error) {
	var resp struct {
		Subtags []string `json:"subtags"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/used-subtags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subtags, nil
}

func (c *Client) Logs(ctx context.Context) ([]domain.UpdateLog, error) {
	var resp struct {
		Logs []domain.UpdateLog `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/logs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (c *Client) Changelog(ctx context.Context) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/changelog", nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) SaveChangelog(ctx context.Context, content string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/changelog", map[string]string{"content": content}, nil)
}

func (c *Client) ExcludeTags(ctx context.Context) ([]string, error) {
	var resp struct {
		ExcludeTags []string `json:"exclude_tags"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/config", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ExcludeTags, nil
}

func (c *Client) SaveExcludeTags(ctx context.Context, excludeTags []string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/config",
		map[string][]string{"exclude_tags": excludeTags}, nil)
}

// Reclassify moves an Others/untagged entry into a real (primary, subtag)
// pair, creating the subtag when it does not exist yet.
func (c *Client) Reclassify(ctx context.Context, product, key, primaryTag, subtag string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/others/update", map[string]string{
		"product":     product,
		"key":         key,
		"primary_tag": primaryTag,
		"subtag":      subtag,
	}, nil)
}

// AddFeature creates a feature and returns its key.
func (c *Client) AddFeature(ctx context.Context, product string, f domain.Feature) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/feature/add", map[string]interface{}{
		"product": product,
		"feature": f,
	}, &resp)
	return resp.Key, err
}

func (c *Client) EditFeature(ctx context.Context, product, key string, f domain.Feature) error {
	return c.do(ctx, http.MethodPost, "/api/admin/feature/edit", map[string]interface{}{
		"product": product,
		"key":     key,
		"feature": f,
	}, nil)
}

func (c *Client) DeleteFeature(ctx context.Context, product, key string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/feature/delete", map[string]string{
		"product": product,
		"key":     key,
	}, nil)
}

func (c *Client) UpdateFeatureTags(ctx context.Context, product, key string, tags []domain.FeatureTag) error {
	return c.do(ctx, http.MethodPost, "/api/admin/feature/update-tags", map[string]interface{}{
		"product": product,
		"key":     key,
		"tags":    tags,
	}, nil)
}

func (c *Client) MarkNone(ctx context.Context, product, key string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/feature/mark-none", map[string]string{
		"product": product,
		"key":     key,
	}, nil)
}

// RenameTag renames a primary tag or subtag everywhere and returns how many
// feature assignments were merged.
func (c *Client) RenameTag(ctx context.Context, oldName, newName string) (int, error) {
	var resp struct {
		Merged int `json:"merged"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/tag/rename", map[string]string{
		"old_name": oldName,
		"new_name": newName,
	}, &resp)
	return resp.Merged, err
}

// SearchPage is one page of the admin feature search.
type SearchPage struct {
	Features []json.RawMessage `json:"features"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
}

func (c *Client) SearchFeatures(ctx context.Context, product, query string, page, pageSize int) (SearchPage, error) {
	var resp SearchPage
	err := c.do(ctx, http.MethodPost, "/api/admin/features", map[string]interface{}{
		"product":   product,
		"query":     query,
		"page":      page,
		"page_size": pageSize,
	}, &resp)
	return resp, err
}

// Status fetches the run status, no auth required.
func (c *Client) Status(ctx context.Context) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *Client) RunCrawl(ctx context.Context) (string, error) {
	return c.trigger(ctx, "/api/run-crawl")
}

func (c *Client) RunSummary(ctx context.Context) (string, error) {
	return c.trigger(ctx, "/api/run-summary")
}

func (c *Client) trigger(ctx context.Context, path string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// WaitForIdle polls the status endpoint every two seconds until neither job
// is running, the ~5 minute attempt budget runs out, or ctx is cancelled.
func (c *Client) WaitForIdle(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		status, err := c.Status(ctx)
		if err == nil && !status.CrawlRunning && !status.SummaryRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("jobs still running after %d polls", c.pollAttempts)
}
