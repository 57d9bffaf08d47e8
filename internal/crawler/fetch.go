// Package crawler fetches product changelog pages and extracts normalized
// feature entries from them. Static pages go through a plain HTTP client;
// JS-rendered changelogs go through a headless browser.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	userAgent   = "changelog-monitor/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// Fetcher retrieves the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL, waitFor string) (string, error)
}

// StaticFetcher fetches pages with a plain HTTP GET. The waitFor selector is
// ignored; there is nothing to wait for.
type StaticFetcher struct {
	Client *http.Client
}

// NewStaticFetcher returns a StaticFetcher with a 30s timeout.
func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *StaticFetcher) Fetch(ctx context.Context, pageURL, _ string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// RodFetcher renders pages in headless Chrome before reading the DOM, for
// the changelogs that assemble client-side.
type RodFetcher struct {
	browser *rod.Browser
}

// NewRodFetcher launches a headless browser.
func NewRodFetcher() (*RodFetcher, error) {
	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &RodFetcher{browser: browser}, nil
}

// Close shuts down the browser.
func (f *RodFetcher) Close() error {
	return f.browser.Close()
}

func (f *RodFetcher) Fetch(ctx context.Context, pageURL, waitFor string) (string, error) {
	page, err := f.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if waitFor != "" {
		if _, err := page.Element(waitFor); err != nil {
			return "", fmt.Errorf("wait for %q: %w", waitFor, err)
		}
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}
