package scripthost

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"

	"github.com/amosweiskopf/sws/internal/htmldoc"
)

func newTestHost(t *testing.T, script string) *Host {
	t.Helper()
	h := New(0)
	t.Cleanup(h.Close)
	require.NoError(t, h.L.DoString(script))

	fn, ok := h.L.GetGlobal("scrapPage").(*lua.LFunction)
	require.True(t, ok, "script must define scrapPage")
	h.scrapPage = fn
	if accept, ok := h.L.GetGlobal("acceptUrl").(*lua.LFunction); ok {
		h.acceptURL = accept
	}
	return h
}

func TestScrapPageEmitsOneRecordPerDefinition(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx)
  local defs = page:select("section.definition")
  for i, def in defs:enumerate() do
    local r = sws.Record.new()
    local word = def:attr("data-word")
    local meaning = def:select("p.meaning"):iter()()
    r:pushField(word)
    r:pushField(tostring(i))
    r:pushField(meaning:innerText())
    ctx:sendRecord(r)
  end
end
`)

	doc, err := htmldoc.Parse([]byte(`<html><body>
<section class="definition" data-word="foo"><p class="meaning">first</p></section>
<section class="definition" data-word="bar"><p class="meaning">second</p></section>
</body></html>`))
	require.NoError(t, err)

	var sent [][]string
	ctx := &ScrapingContext{
		Location:   PageLocation{Kind: LocationURL, Value: "https://example.com/define"},
		WorkerID:   0,
		SendRecord: func(fields []string) { sent = append(sent, fields) },
		SendURL:    func(string) {},
	}

	require.NoError(t, h.ScrapPage(doc, ctx))
	require.Len(t, sent, 2)
	require.Equal(t, []string{"foo", "1", "first"}, sent[0])
	require.Equal(t, []string{"bar", "2", "second"}, sent[1])
}

func TestScrapPageInvalidatesHtmlAndContextAfterReturn(t *testing.T) {
	h := newTestHost(t, `
savedPage = nil
function scrapPage(page, ctx)
  savedPage = page
end
function acceptUrl(url, ctx)
  if savedPage ~= nil then
    savedPage:select("div")
  end
  return true
end
`)

	doc, err := htmldoc.Parse([]byte(`<div></div>`))
	require.NoError(t, err)
	ctx := &ScrapingContext{SendRecord: func([]string) {}, SendURL: func(string) {}}
	require.NoError(t, h.ScrapPage(doc, ctx))

	_, err = h.AcceptURL("https://example.com", &CrawlingContext{})
	require.Error(t, err)
}

func TestAcceptUrlAbsentAcceptsEverything(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
`)
	ok, err := h.AcceptURL("https://example.com/anything", &CrawlingContext{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcceptUrlTruthyNonBooleanAccepts(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
function acceptUrl(url, ctx)
  return { matched = true }
end
`)
	ok, err := h.AcceptURL("https://example.com/term=apple", &CrawlingContext{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcceptUrlFalseRejects(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
function acceptUrl(url, ctx)
  return string.find(url, "term=") ~= nil
end
`)
	ok, err := h.AcceptURL("https://example.com/about", &CrawlingContext{})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.AcceptURL("https://example.com/define?term=apple", &CrawlingContext{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHarvestCrawlerConfigReadsThrottleAndPolicies(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
seedPages = { "https://example.com/define?term=Lua" }
crawlerConfig = {
  userAgent = "sws-test/1.0",
  numWorkers = 8,
  throttle = { Delay = 2 },
  onDlError = "fail",
}
`)

	seed, err := h.HarvestSeed()
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/define?term=Lua"}, seed.Pages)

	partial, err := h.HarvestCrawlerConfig()
	require.NoError(t, err)
	require.Equal(t, "sws-test/1.0", *partial.UserAgent)
	require.Equal(t, 8, *partial.NumWorkers)
	require.NotNil(t, partial.Throttle)
	require.Equal(t, 2.0, partial.Throttle.Delay.Seconds())
	require.NotNil(t, partial.OnDlError)
}

func TestHarvestCsvWriterConfigReadsTerminatorAndEscape(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
csvWriterConfig = {
  delimiter = "\t",
  escape = "\\",
  flexible = true,
  terminator = "CRLF",
}
`)

	cfg, present, err := h.HarvestCsvWriterConfig()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, '\t', cfg.Delimiter)
	require.True(t, cfg.HasEscape)
	require.Equal(t, '\\', cfg.Escape)
	require.True(t, cfg.Flexible)
	require.True(t, cfg.Terminator.CRLF)
}

func TestHarvestSeedRejectsMultipleKinds(t *testing.T) {
	h := newTestHost(t, `
function scrapPage(page, ctx) end
seedPages = { "https://example.com/a" }
seedSitemaps = { "https://example.com/sitemap.xml" }
`)
	_, err := h.HarvestSeed()
	require.Error(t, err)
}
