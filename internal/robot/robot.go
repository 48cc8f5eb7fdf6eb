// Package robot wraps a parsed robots.txt document behind the Allowed
// predicate and crawl-delay hint the Throttler's defaulting rule
// reads from.
package robot

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// Robot is immutable after construction and safe for concurrent
// read-only use by every downloader goroutine.
type Robot struct {
	data      *robotstxt.RobotsData
	userAgent string
}

// Parse builds a Robot from a robots.txt response body for userAgent.
func Parse(body []byte, userAgent string) (*Robot, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Robot{data: data, userAgent: userAgent}, nil
}

// Fetch downloads and parses robots.txt from url.
func Fetch(client *http.Client, url, userAgent string) (*Robot, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read robots.txt body: %w", err)
	}
	return Parse(body, userAgent)
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Rules are matched against the URL's path and query.
func (r *Robot) Allowed(rawURL string) bool {
	if r == nil {
		return true
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.RequestURI()
	}
	return r.data.TestAgent(path, r.userAgent)
}

// CrawlDelay returns the crawl-delay hint for the configured user
// agent, if one was published.
func (r *Robot) CrawlDelay() (time.Duration, bool) {
	if r == nil {
		return 0, false
	}
	group := r.data.FindGroup(r.userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

// Sitemaps returns the sitemap URLs published by robots.txt.
func (r *Robot) Sitemaps() []string {
	if r == nil {
		return nil
	}
	return r.data.Sitemaps
}
