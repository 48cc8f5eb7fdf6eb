package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/amosweiskopf/sws/internal/config"
	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/scripthost"
	"github.com/amosweiskopf/sws/internal/throttle"
)

func newHosts(t *testing.T, script string, numWorkers int) (*scripthost.Host, []*scripthost.Host) {
	t.Helper()
	control := scripthost.New(-1)
	require.NoError(t, control.LoadScriptString(script))
	t.Cleanup(control.Close)

	workers := make([]*scripthost.Host, numWorkers)
	for i := 0; i < numWorkers; i++ {
		h := scripthost.New(i)
		require.NoError(t, h.LoadScriptString(script))
		t.Cleanup(h.Close)
		workers[i] = h
	}
	return control, workers
}

func openSink(t *testing.T, cfg csvsink.Config) (*csvsink.Sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.csv")
	sink, err := csvsink.Open(path, csvsink.Truncate, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink, path
}

func readSinkFile(t *testing.T, sink *csvsink.Sink, path string) string {
	t.Helper()
	require.NoError(t, sink.Flush())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

const definitionScript = `
function scrapPage(page, ctx)
  local defs = page:select("section.definition")
  for i, def in defs:enumerate() do
    local r = sws.Record.new()
    r:pushField(def:attr("data-word"))
    r:pushField(tostring(i))
    r:pushField(def:select("p.meaning"):iter()():innerText())
    ctx:sendRecord(r)
  end
end
`

func TestRunSeedPagesEmitsOneRecordPerDefinition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<section class="definition" data-word="lua"><p class="meaning">a scripting language</p></section>
<section class="definition" data-word="idiom"><p class="meaning">a customary way of writing</p></section>
</body></html>`)
	}))
	defer srv.Close()

	control, workers := newHosts(t, definitionScript, 1)
	sink, sinkPath := openSink(t, csvsink.DefaultConfig())

	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: 4},
			NumWorkers:   1,
			OnDlError:    errs.SkipAndLog,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed:        config.Seed{Kind: config.PageSeed, Pages: []string{srv.URL + "/define?term=Lua"}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Concurrent(4),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, Done, o.State())

	content := readSinkFile(t, sink, sinkPath)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "lua,1,a scripting language", lines[0])
	require.Equal(t, "idiom,2,a customary way of writing", lines[1])
}

const acceptTermScript = `
function scrapPage(page, ctx)
  local r = sws.Record.new()
  r:pushField(ctx:pageLocation():get())
  ctx:sendRecord(r)
end

function acceptUrl(url, ctx)
  return string.find(url, "term=") ~= nil
end
`

func TestRunSitemapFiltersURLsViaAcceptUrl(t *testing.T) {
	var mu sync.Mutex
	var requested []string

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.String())
		mu.Unlock()
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	// The sitemap body embeds absolute URLs, so it can only be
	// registered once the live server address is known.
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset>
  <url><loc>%s/define?term=Lua</loc></url>
  <url><loc>%s/about</loc></url>
  <url><loc>%s/define?term=Go</loc></url>
</urlset>`, srv.URL, srv.URL, srv.URL)
	})

	control, workers := newHosts(t, acceptTermScript, 1)
	sink, _ := openSink(t, csvsink.DefaultConfig())

	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: 4},
			NumWorkers:   1,
			OnDlError:    errs.SkipAndLog,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed:        config.Seed{Kind: config.SitemapSeed, Sitemaps: []string{srv.URL + "/sitemap.xml"}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Concurrent(4),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, o.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requested, 2)
	for _, u := range requested {
		require.Contains(t, u, "term=")
	}
}

const echoURLScript = `
function scrapPage(page, ctx)
  local r = sws.Record.new()
  r:pushField(ctx:pageLocation():get())
  ctx:sendRecord(r)
end
`

func TestRunDelayThrottleSpacesDownloadStarts(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	control, workers := newHosts(t, echoURLScript, 1)
	sink, _ := openSink(t, csvsink.DefaultConfig())

	const delay = 200 * time.Millisecond
	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.DelayThrottle, Delay: delay},
			NumWorkers:   1,
			OnDlError:    errs.SkipAndLog,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed: config.Seed{Kind: config.PageSeed, Pages: []string{
			srv.URL + "/a",
			srv.URL + "/b",
		}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Delay(delay),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, o.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 2)
	require.GreaterOrEqual(t, starts[1].Sub(starts[0]), delay-10*time.Millisecond)
}

const factionCreatureScript = `
function scrapPage(page, ctx)
  local loc = ctx:pageLocation():get()
  if string.find(loc, "faction") ~= nil then
    ctx:sendUrl(loc:gsub("faction", "creature"))
  else
    local r = sws.Record.new()
    r:pushField(loc)
    ctx:sendRecord(r)
  end
end
`

func TestRunSendUrlDiscoversAdditionalPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	control, workers := newHosts(t, factionCreatureScript, 1)
	sink, sinkPath := openSink(t, csvsink.DefaultConfig())

	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: 4},
			NumWorkers:   1,
			OnDlError:    errs.SkipAndLog,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed:        config.Seed{Kind: config.PageSeed, Pages: []string{srv.URL + "/faction/orcs"}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Concurrent(4),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, o.Run(context.Background()))

	content := readSinkFile(t, sink, sinkPath)
	require.Contains(t, content, "/creature/orcs")
}

func TestRunOnDlErrorFailStopsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	control, workers := newHosts(t, echoURLScript, 1)
	sink, _ := openSink(t, csvsink.DefaultConfig())

	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: 4},
			NumWorkers:   1,
			OnDlError:    errs.Fail,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed:        config.Seed{Kind: config.PageSeed, Pages: []string{srv.URL + "/missing"}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Concurrent(4),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	err := o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, Failed, o.State())

	var dlErr *errs.DownloadError
	require.ErrorAs(t, err, &dlErr)
}

const variableFieldScript = `
function scrapPage(page, ctx)
  local loc = ctx:pageLocation():get()
  local r = sws.Record.new()
  r:pushField(loc)
  if string.find(loc, "wide") ~= nil then
    r:pushField("extra")
    r:pushField("fields")
  end
  ctx:sendRecord(r)
end
`

func TestRunSinkFlexibleFalseMismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	control, workers := newHosts(t, variableFieldScript, 1)
	cfg := csvsink.DefaultConfig()
	cfg.Flexible = false
	sink, sinkPath := openSink(t, cfg)

	o := New(Options{
		Config: config.CrawlerConfig{
			UserAgent:    "sws-test/1.0",
			PageBuffer:   4,
			Throttle:     config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: 1},
			NumWorkers:   1,
			OnDlError:    errs.SkipAndLog,
			OnXmlError:   errs.SkipAndLog,
			OnScrapError: errs.SkipAndLog,
		},
		Seed: config.Seed{Kind: config.PageSeed, Pages: []string{
			srv.URL + "/narrow",
			srv.URL + "/wide",
		}},
		Client:      srv.Client(),
		Sink:        sink,
		Throttler:   throttle.Concurrent(1),
		ControlHost: control,
		Workers:     workers,
		Logger:      zerolog.Nop(),
	})

	err := o.Run(context.Background())
	require.Error(t, err)

	var sinkErr *errs.SinkError
	require.ErrorAs(t, err, &sinkErr)

	content := readSinkFile(t, sink, sinkPath)
	require.Contains(t, content, "/narrow")
}

