// Package htmldoc implements the parsed HTML model and CSS selector
// engine scripts query through sws.Html/sws.Select/sws.ElemRef: a
// document parsed once per scrapPage invocation, with non-owning
// element handles and a lazy, selector-driven query executor.
package htmldoc

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Document is an immutable parsed HTML page, owned for the scope of
// one scrapPage invocation.
type Document struct {
	root *html.Node
}

// Parse parses raw HTML bytes (best-effort on non-UTF-8 input, as the
// underlying tokenizer assumes UTF-8) into a Document.
func Parse(body []byte) (*Document, error) {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	return &Document{root: root}, nil
}

// ElemRef is a non-owning handle into the Document that produced it.
// It must not be retained past that Document's lifetime.
type ElemRef struct {
	node *html.Node
}

// Select is a lazy query executor: a compiled selector plus the root
// it searches from. Each call to Iter/Enumerate walks the tree fresh.
type Select struct {
	root *html.Node
	sel  cascadia.Selector
}

// CompileSelector compiles sel once; selectors are level-3+ CSS
// (type, class, id, attribute, combinators, nth-of-type, etc., as
// supported by cascadia).
func CompileSelector(sel string) (cascadia.Selector, error) {
	return cascadia.Compile(sel)
}

// Select queries the whole document.
func (d *Document) Select(sel cascadia.Selector) *Select {
	return &Select{root: d.root, sel: sel}
}

// Select queries descendants of this element.
func (e ElemRef) Select(sel cascadia.Selector) *Select {
	return &Select{root: e.node, sel: sel}
}

// Iter returns the matched elements in document order, without
// duplicates.
func (s *Select) Iter() []ElemRef {
	nodes := s.sel.MatchAll(s.root)
	refs := make([]ElemRef, len(nodes))
	for i, n := range nodes {
		refs[i] = ElemRef{node: n}
	}
	return refs
}

// EnumeratedElem pairs a 1-based index with its ElemRef, matching the
// 1-based enumeration scripts observe.
type EnumeratedElem struct {
	Index int
	Elem  ElemRef
}

// Enumerate returns the matched elements paired with a 1-based index.
func (s *Select) Enumerate() []EnumeratedElem {
	elems := s.Iter()
	out := make([]EnumeratedElem, len(elems))
	for i, e := range elems {
		out[i] = EnumeratedElem{Index: i + 1, Elem: e}
	}
	return out
}

// InnerText concatenates descendant text nodes in document order,
// without re-introducing element boundaries; whitespace is preserved
// as in source.
func (e ElemRef) InnerText() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.node)
	return b.String()
}

// InnerHTML returns the serialized inner markup of the element.
func (e ElemRef) InnerHTML() (string, error) {
	var b strings.Builder
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// Attr returns the attribute value and whether it was present.
func (e ElemRef) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Attrs returns every attribute on the element.
func (e ElemRef) Attrs() map[string]string {
	out := make(map[string]string, len(e.node.Attr))
	for _, a := range e.node.Attr {
		out[a.Key] = a.Val
	}
	return out
}

// Classes returns the split class tokens.
func (e ElemRef) Classes() []string {
	class, ok := e.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(class)
}

// HasClass reports whether c is a member of the element's class set.
func (e ElemRef) HasClass(c string) bool {
	for _, cls := range e.Classes() {
		if cls == c {
			return true
		}
	}
	return false
}

// Name returns the element's tag name.
func (e ElemRef) Name() string {
	return e.node.Data
}

// Node exposes the underlying node for callers (e.g. the script host)
// that need to wrap it without copying.
func (e ElemRef) Node() *html.Node { return e.node }

// NewElemRef wraps a raw node as an ElemRef.
func NewElemRef(n *html.Node) ElemRef { return ElemRef{node: n} }

// Root returns the document's root node as an ElemRef, e.g. for
// scripts that want to select from the whole tree through ElemRef's
// API rather than Document's.
func (d *Document) Root() ElemRef { return ElemRef{node: d.root} }
