// Package crawler implements the Seeding → Crawling → Draining →
// Done|Failed orchestrator of spec §4.6: it resolves a Seed into a
// stream of page URLs, downloads them under a Throttler, fans pages
// out to a worker pool of scripthost.Hosts, and feeds the records and
// discovered URLs they produce back into the CSV Sink and URL queue.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/amosweiskopf/sws/internal/config"
	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/htmldoc"
	"github.com/amosweiskopf/sws/internal/robot"
	"github.com/amosweiskopf/sws/internal/scripthost"
	"github.com/amosweiskopf/sws/internal/sitemap"
	"github.com/amosweiskopf/sws/internal/throttle"
)

// Options bundles everything one run needs. Hosts and the Sink are
// constructed by the caller (cmd/sws merges config and harvests the
// seed before building these) so Orchestrator stays free of script
// loading and CLI concerns.
type Options struct {
	Config    config.CrawlerConfig
	Seed      config.Seed
	Robot     *robot.Robot
	Client    *http.Client
	Sink      *csvsink.Sink
	Throttler throttle.Throttler

	// ControlHost runs acceptUrl during sitemap discovery, on its own
	// interpreter so it never races a worker's scrapPage calls.
	ControlHost *scripthost.Host
	// Workers holds exactly Config.NumWorkers hosts, one per worker
	// goroutine, each with its script already loaded.
	Workers []*scripthost.Host

	Logger zerolog.Logger
}

type pageJob struct {
	url string
	doc *htmldoc.Document
}

// Orchestrator runs exactly one crawl. It is not reusable across runs.
type Orchestrator struct {
	opts Options

	seen  *seenSet
	urlQ  *urlQueue
	pageQ chan *pageJob

	outstanding   atomic.Int64
	discoveryDone atomic.Bool
	workerBusy    atomic.Int64

	downloadWG sync.WaitGroup
	workerWG   sync.WaitGroup

	state  atomic.Value
	cancel context.CancelFunc

	doneCh    chan struct{}
	finishOne sync.Once

	errMu    sync.Mutex
	firstErr error
}

// New builds an Orchestrator ready to Run once.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		opts:   opts,
		seen:   newSeenSet(),
		urlQ:   newURLQueue(),
		pageQ:  make(chan *pageJob, opts.Config.PageBuffer),
		doneCh: make(chan struct{}),
	}
	o.state.Store(Seeding)
	return o
}

// State reports the orchestrator's current top-level state.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(s)
	o.opts.Logger.Info().Str("state", s.String()).Msg("orchestrator state transition")
}

func (o *Orchestrator) logWarn(err error) {
	o.opts.Logger.Warn().Err(err).Msg("stage error, continuing")
}

// Run drives the whole state machine to completion and returns the
// first fatal error encountered, or nil on a clean Done.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()

	go func() {
		<-ctx.Done()
		o.urlQ.Close()
	}()

	o.setState(Seeding)

	seed := o.opts.Seed
	if seed.Kind == config.RobotsSeed {
		fetched, err := robot.Fetch(o.opts.Client, seed.RobotsURL, o.opts.Config.UserAgent)
		if err != nil {
			o.fail(errs.NewConfigError("fetch seed robots.txt: %v", err))
			<-o.doneCh
			return o.firstErrValue()
		}
		o.opts.Robot = fetched
		seed = config.Seed{Kind: config.SitemapSeed, Sitemaps: fetched.Sitemaps()}
	}

	o.setState(Crawling)

	o.workerWG.Add(len(o.opts.Workers))
	for i, h := range o.opts.Workers {
		go o.workerLoop(ctx, i, h)
	}
	go o.dispatchDownloads(ctx)
	go o.monitorQuiescence(ctx)

	switch seed.Kind {
	case config.SitemapSeed:
		go o.runSitemapDiscovery(ctx, seed.Sitemaps)
	case config.PageSeed:
		go o.seedPages(seed.Pages)
	default:
		o.finishDiscovery()
	}

	<-o.doneCh
	return o.firstErrValue()
}

func (o *Orchestrator) firstErrValue() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.firstErr
}

// finish transitions to a terminal state exactly once.
func (o *Orchestrator) finish(state State, err error) {
	o.finishOne.Do(func() {
		if err != nil {
			o.errMu.Lock()
			o.firstErr = err
			o.errMu.Unlock()
		}
		o.setState(state)
		close(o.doneCh)
	})
}

// fail cancels the run and transitions to Failed, per spec §4.6's
// "any component raising a fatal error ... causes cancellation".
func (o *Orchestrator) fail(err error) {
	o.finish(Failed, err)
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) finishDiscovery() {
	o.discoveryDone.Store(true)
}

// enqueueURL is the single entry point for every new URL the run
// discovers, whether from sitemap traversal, direct seed pages, or a
// worker's ctx.sendUrl. The outstanding counter is incremented before
// the URL is placed, per spec §9 ("sendUrl must increment the
// in-flight counter before placement").
func (o *Orchestrator) enqueueURL(raw string) {
	canon, first := o.seen.markSeen(raw)
	if !first {
		return
	}
	o.outstanding.Add(1)
	o.urlQ.Push(canon)
}

func (o *Orchestrator) seedPages(pages []string) {
	defer o.finishDiscovery()
	for _, p := range pages {
		o.enqueueURL(p)
	}
}

func (o *Orchestrator) runSitemapDiscovery(ctx context.Context, sitemaps []string) {
	defer o.finishDiscovery()

	var robotIface sitemap.Robot
	if o.opts.Robot != nil {
		robotIface = o.opts.Robot
	}
	trav := sitemap.New(o, o.acceptSitemapURL, robotIface)

	for _, s := range sitemaps {
		if err := trav.Traverse(ctx, s, o.enqueueURL); err != nil {
			if errs.Apply(err, o.opts.Config.OnXmlError, o.logWarn) {
				o.fail(err)
				return
			}
		}
	}
}

// Fetch implements sitemap.Fetcher by reusing the same GET path as
// page downloads.
func (o *Orchestrator) Fetch(ctx context.Context, url string) ([]byte, error) {
	return o.fetch(ctx, url)
}

func (o *Orchestrator) acceptSitemapURL(url string, ctx sitemap.Context) bool {
	if o.opts.ControlHost == nil {
		return true
	}
	ok, err := o.opts.ControlHost.AcceptURL(url, &scripthost.CrawlingContext{
		Sitemap: ctx.Kind,
		Robot:   o.opts.Robot,
	})
	if err != nil {
		o.logWarn(err)
		return false
	}
	return ok
}

// dispatchDownloads pulls URLs off the queue and spawns one download
// goroutine per URL, gated by the Throttler rather than by the queue
// itself.
func (o *Orchestrator) dispatchDownloads(ctx context.Context) {
	for {
		u, ok := o.urlQ.Pop()
		if !ok {
			return
		}
		o.downloadWG.Add(1)
		go o.download(ctx, u)
	}
}

// download fetches one URL and, on success, hands the parsed page to
// pageQ. outstanding is decremented here on every path that does not
// place a job on pageQ; once a job is placed, outstanding stays
// incremented until workerLoop finishes processing it, so a page is
// never counted as done before scrapPage has actually run.
func (o *Orchestrator) download(ctx context.Context, urlStr string) {
	defer o.downloadWG.Done()

	if o.opts.Robot != nil && !o.opts.Robot.Allowed(urlStr) {
		o.opts.Logger.Warn().Str("url", urlStr).Msg("rejected by robots.txt")
		o.outstanding.Add(-1)
		return
	}

	if err := o.opts.Throttler.Acquire(ctx); err != nil {
		o.outstanding.Add(-1)
		return
	}
	defer o.opts.Throttler.Release()

	select {
	case <-ctx.Done():
		o.outstanding.Add(-1)
		return
	default:
	}

	body, err := o.fetch(ctx, urlStr)
	if err != nil {
		o.outstanding.Add(-1)
		dlErr := &errs.DownloadError{URL: urlStr, Err: err}
		if errs.Apply(dlErr, o.opts.Config.OnDlError, o.logWarn) {
			o.fail(dlErr)
		}
		return
	}

	doc, err := htmldoc.Parse(body)
	if err != nil {
		o.outstanding.Add(-1)
		dlErr := &errs.DownloadError{URL: urlStr, Err: fmt.Errorf("parse html: %w", err)}
		if errs.Apply(dlErr, o.opts.Config.OnDlError, o.logWarn) {
			o.fail(dlErr)
		}
		return
	}

	select {
	case o.pageQ <- &pageJob{url: urlStr, doc: doc}:
	case <-ctx.Done():
		o.outstanding.Add(-1)
	}
}

func (o *Orchestrator) fetch(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", o.opts.Config.UserAgent)

	resp, err := o.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, urlStr)
	}
	return io.ReadAll(resp.Body)
}

func (o *Orchestrator) workerLoop(ctx context.Context, idx int, h *scripthost.Host) {
	defer o.workerWG.Done()
	for {
		select {
		case job, ok := <-o.pageQ:
			if !ok {
				return
			}
			o.workerBusy.Add(1)
			o.opts.Logger.Debug().Int("worker", idx).Str("url", job.url).Msg("scraping page")
			o.processPage(h, job)
			o.workerBusy.Add(-1)
			o.outstanding.Add(-1)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) processPage(h *scripthost.Host, job *pageJob) {
	sctx := &scripthost.ScrapingContext{
		Location:   scripthost.PageLocation{Kind: scripthost.LocationURL, Value: job.url},
		WorkerID:   h.WorkerID,
		Robot:      o.opts.Robot,
		SendRecord: func(fields []string) { o.sendRecord(fields) },
		SendURL:    func(u string) { o.enqueueURL(u) },
	}

	if err := h.ScrapPage(job.doc, sctx); err != nil {
		if errs.Apply(err, o.opts.Config.OnScrapError, o.logWarn) {
			o.fail(err)
		}
	}
}

func (o *Orchestrator) sendRecord(fields []string) {
	rec := csvsink.NewRecord()
	for _, f := range fields {
		rec.PushField(f)
	}
	// SinkError is always fatal per spec §7, regardless of any policy.
	if err := o.opts.Sink.WriteRecord(rec); err != nil {
		o.fail(err)
	}
}

// monitorQuiescence polls the conditions the Draining transition
// requires on a ticker rather than wiring a dedicated signal per
// event.
func (o *Orchestrator) monitorQuiescence(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-o.doneCh:
			return
		case <-ticker.C:
			if o.quiescent() {
				o.drain(ctx)
				return
			}
		}
	}
}

func (o *Orchestrator) quiescent() bool {
	return o.discoveryDone.Load() &&
		o.outstanding.Load() == 0 &&
		o.urlQ.Len() == 0 &&
		len(o.pageQ) == 0 &&
		o.workerBusy.Load() == 0
}

func (o *Orchestrator) drain(_ context.Context) {
	o.setState(Draining)
	close(o.pageQ)
	o.workerWG.Wait()
	if err := o.opts.Sink.Flush(); err != nil {
		o.finish(Failed, err)
		return
	}
	o.finish(Done, nil)
}
