// Package urlnorm canonicalizes URLs for the crawl run's seen-set, so
// that cosmetically distinct spellings of the same resource collapse
// to one dedupe key.
package urlnorm

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize lowercases the scheme and host, drops the fragment,
// and trims a trailing slash from the path (a bare "/" path becomes
// empty), returning a stable key suitable for the seen-set.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "/" {
		u.Path = ""
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Resolve joins ref against base the way a browser resolves an href,
// for relative sitemap/page links.
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref url %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
