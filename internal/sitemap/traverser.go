// Package sitemap implements the streaming XML sitemap traversal
// described in spec §4.4: fetch, classify as an index or a URL set
// from the very first start element, recurse into indexes with cycle
// detection, and emit accepted, Robot-allowed page URLs.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/urlnorm"
)

// Kind is the sitemap document shape, determined by its root element.
type Kind int

const (
	// Index is a <sitemapindex> document whose <sitemap><loc> entries
	// are further sitemap URLs.
	Index Kind = iota
	// URLSet is a <urlset> document whose <url><loc> entries are
	// candidate page URLs.
	URLSet
)

func (k Kind) String() string {
	if k == Index {
		return "INDEX"
	}
	return "URL_SET"
}

// Context is passed to AcceptFunc for every discovered location.
type Context struct {
	Kind Kind
}

// AcceptFunc decides whether a discovered URL should be followed
// (an INDEX entry) or enqueued (a URL_SET entry). A nil AcceptFunc
// accepts everything.
type AcceptFunc func(url string, ctx Context) bool

// Fetcher retrieves the raw bytes of a sitemap document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Robot gates which candidate page URLs may be enqueued. A nil Robot
// allows everything.
type Robot interface {
	Allowed(url string) bool
}

// Traverser walks a sitemap tree, recursing into INDEX documents and
// emitting accepted URL_SET locations. Each sitemap URL is fetched at
// most once; page URLs are not deduplicated here, so a page listed in
// two URL sets is emitted twice.
type Traverser struct {
	fetch  Fetcher
	accept AcceptFunc
	robot  Robot

	mu   sync.Mutex
	seen map[string]bool
}

// New builds a Traverser. accept and robot may both be nil.
func New(fetch Fetcher, accept AcceptFunc, robot Robot) *Traverser {
	return &Traverser{
		fetch:  fetch,
		accept: accept,
		robot:  robot,
		seen:   make(map[string]bool),
	}
}

func (t *Traverser) markSeen(rawURL string) bool {
	canon, err := urlnorm.Canonicalize(rawURL)
	if err != nil {
		canon = rawURL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[canon] {
		return false
	}
	t.seen[canon] = true
	return true
}

func (t *Traverser) accepts(url string, ctx Context) bool {
	if t.accept == nil {
		return true
	}
	return t.accept(url, ctx)
}

// Traverse fetches sitemapURL and every INDEX it recursively expands,
// calling emit once per accepted, Robot-allowed page URL. Cycles
// (a sitemap URL revisited via a different index entry) are silently
// skipped, not errors.
func (t *Traverser) Traverse(ctx context.Context, sitemapURL string, emit func(pageURL string)) error {
	if !t.markSeen(sitemapURL) {
		return nil
	}

	body, err := t.fetch.Fetch(ctx, sitemapURL)
	if err != nil {
		return &errs.XmlError{URL: sitemapURL, Err: err}
	}

	reader, err := maybeGunzip(sitemapURL, body)
	if err != nil {
		return &errs.XmlError{URL: sitemapURL, Err: err}
	}

	locs, kind, err := decodeSitemap(reader)
	if err != nil {
		return &errs.XmlError{URL: sitemapURL, Err: fmt.Errorf("%s: %w", sitemapURL, err)}
	}

	switch kind {
	case Index:
		for _, loc := range locs {
			if !t.accepts(loc, Context{Kind: Index}) {
				continue
			}
			if err := t.Traverse(ctx, loc, emit); err != nil {
				return err
			}
		}
	case URLSet:
		for _, loc := range locs {
			if !t.accepts(loc, Context{Kind: URLSet}) {
				continue
			}
			if t.robot != nil && !t.robot.Allowed(loc) {
				continue
			}
			emit(loc)
		}
	}
	return nil
}

func maybeGunzip(url string, body []byte) (io.Reader, error) {
	looksGzip := strings.HasSuffix(strings.ToLower(url), ".gz") ||
		(len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b)
	if !looksGzip {
		return bytes.NewReader(body), nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip sitemap body: %w", err)
	}
	return gz, nil
}

// decodeSitemap streams tokens rather than unmarshaling into a struct
// so the root element can classify the document before the rest of a
// possibly-large body has been read.
func decodeSitemap(r io.Reader) ([]string, Kind, error) {
	dec := xml.NewDecoder(r)

	var (
		kind      Kind
		haveKind  bool
		locs      []string
		stack     []string
		textBuf   strings.Builder
		inLoc     bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decode sitemap xml: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := el.Name.Local
			if !haveKind {
				switch name {
				case "sitemapindex":
					kind = Index
				case "urlset":
					kind = URLSet
				default:
					return nil, 0, fmt.Errorf("unrecognized sitemap root element %q", name)
				}
				haveKind = true
			}
			stack = append(stack, name)
			if name == "loc" {
				inLoc = true
				textBuf.Reset()
			}
		case xml.CharData:
			if inLoc {
				textBuf.Write(el)
			}
		case xml.EndElement:
			if el.Name.Local == "loc" && inLoc {
				loc := strings.TrimSpace(textBuf.String())
				parent := ""
				if len(stack) >= 2 {
					parent = stack[len(stack)-2]
				}
				if loc != "" && (parent == "sitemap" || parent == "url") {
					locs = append(locs, loc)
				}
				inLoc = false
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !haveKind {
		return nil, 0, fmt.Errorf("empty sitemap document")
	}
	return locs, kind, nil
}
