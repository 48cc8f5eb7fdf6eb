package htmldoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html><body>
<section class="definition" id="d1"><p class="meaning">first</p></section>
<section class="definition" id="d2"><p class="meaning">second</p></section>
<section class="definition" id="d3"><p class="meaning">third</p></section>
</body></html>`

func TestEnumerateIsOneBasedAndContiguous(t *testing.T) {
	doc, err := Parse([]byte(sampleHTML))
	require.NoError(t, err)

	sel, err := CompileSelector("section.definition")
	require.NoError(t, err)

	enumerated := doc.Select(sel).Enumerate()
	require.Len(t, enumerated, 3)
	for i, e := range enumerated {
		require.Equal(t, i+1, e.Index)
	}
}

func TestIterMatchesEnumerateOrderWithoutIndex(t *testing.T) {
	doc, err := Parse([]byte(sampleHTML))
	require.NoError(t, err)

	sel, err := CompileSelector("p.meaning")
	require.NoError(t, err)

	iter := doc.Select(sel).Iter()
	enumerated := doc.Select(sel).Enumerate()
	require.Len(t, iter, len(enumerated))
	for i := range iter {
		require.Equal(t, iter[i], enumerated[i].Elem)
		require.Equal(t, iter[i].InnerText(), enumerated[i].Elem.InnerText())
	}

	require.Equal(t, "first", iter[0].InnerText())
	require.Equal(t, "second", iter[1].InnerText())
	require.Equal(t, "third", iter[2].InnerText())
}

func TestEmptySelectYieldsNoElements(t *testing.T) {
	doc, err := Parse([]byte(sampleHTML))
	require.NoError(t, err)

	sel, err := CompileSelector("section.nonexistent")
	require.NoError(t, err)

	require.Empty(t, doc.Select(sel).Iter())
}

func TestAttrsClassesAndHasClass(t *testing.T) {
	doc, err := Parse([]byte(`<div id="x" class="a b c" data-foo="bar"></div>`))
	require.NoError(t, err)

	sel, err := CompileSelector("div")
	require.NoError(t, err)

	elems := doc.Select(sel).Iter()
	require.Len(t, elems, 1)
	el := elems[0]

	v, ok := el.Attr("data-foo")
	require.True(t, ok)
	require.Equal(t, "bar", v)

	_, ok = el.Attr("missing")
	require.False(t, ok)

	require.ElementsMatch(t, []string{"a", "b", "c"}, el.Classes())
	require.True(t, el.HasClass("b"))
	require.False(t, el.HasClass("z"))

	attrs := el.Attrs()
	require.Equal(t, "x", attrs["id"])
}

func TestInnerTextPreservesWhitespaceWithoutElementBoundaries(t *testing.T) {
	doc, err := Parse([]byte(`<p>hello <b>world</b>  foo</p>`))
	require.NoError(t, err)

	sel, err := CompileSelector("p")
	require.NoError(t, err)

	elems := doc.Select(sel).Iter()
	require.Len(t, elems, 1)
	require.Equal(t, "hello world  foo", elems[0].InnerText())
}

func TestMalformedHTMLParsesBestEffort(t *testing.T) {
	doc, err := Parse([]byte(`<div><p>unterminated`))
	require.NoError(t, err)

	sel, err := CompileSelector("p")
	require.NoError(t, err)
	require.NotEmpty(t, doc.Select(sel).Iter())
}
