package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/htmldoc"
	"github.com/amosweiskopf/sws/internal/scripthost"
)

var scrapCmd = &cobra.Command{
	Use:   "scrap",
	Short: "run a script's scrapPage against one URL or a set of local files",
	Args:  cobra.NoArgs,
	RunE:  runScrap,
}

func init() {
	scrapCmd.Flags().String("script", "", "path to the Lua script (required)")
	scrapCmd.Flags().String("url", "", "fetch and scrap a single URL")
	scrapCmd.Flags().String("files", "", "scrap every local file matching this glob")
	scrapCmd.Flags().StringP("output", "o", "", "output CSV path (default: stdout)")
	scrapCmd.Flags().Bool("append", false, "append to an existing output file")
	scrapCmd.Flags().Bool("truncate", false, "overwrite an existing output file")
	scrapCmd.Flags().Int("num-workers", 1, "number of concurrent scripthost workers")
	scrapCmd.Flags().String("on-error", "skip-and-log", "skip-and-log|fail")
	_ = scrapCmd.MarkFlagRequired("script")
}

// scrapTask is one htmldoc.Document yet to be built: either a URL to
// fetch or a local file to read, per spec's Location.URL/Location.PATH
// distinction.
type scrapTask struct {
	location scripthost.PageLocation
}

func runScrap(cmd *cobra.Command, _ []string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	logger := newLogger(quiet)

	scriptPath, _ := cmd.Flags().GetString("script")
	url, _ := cmd.Flags().GetString("url")
	glob, _ := cmd.Flags().GetString("files")

	if (url == "") == (glob == "") {
		return errs.NewConfigError("exactly one of --url or --files must be set")
	}

	numWorkers, _ := cmd.Flags().GetInt("num-workers")
	if numWorkers <= 0 {
		return errs.NewConfigError("--num-workers must be positive, got %d", numWorkers)
	}

	onErrorStr, _ := cmd.Flags().GetString("on-error")
	onError, err := errs.ParsePolicy(onErrorStr)
	if err != nil {
		return errs.NewConfigError("--on-error: %v", err)
	}

	var tasks []scrapTask
	if url != "" {
		tasks = []scrapTask{{location: scripthost.PageLocation{Kind: scripthost.LocationURL, Value: url}}}
	} else {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return errs.NewConfigError("--files %q: %v", glob, err)
		}
		for _, m := range matches {
			tasks = append(tasks, scrapTask{location: scripthost.PageLocation{Kind: scripthost.LocationPath, Value: m}})
		}
	}
	if len(tasks) == 0 {
		return errs.NewConfigError("no pages matched --url/--files")
	}
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	outPath, mode, err := outputMode(cmd)
	if err != nil {
		return err
	}
	sink, err := csvsink.Open(outPath, mode, csvsink.DefaultConfig())
	if err != nil {
		return err
	}
	defer sink.Close()

	client := newHTTPClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskCh := make(chan scrapTask)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	fail := func(e error) {
		errOnce.Do(func() {
			firstErr = e
			cancel()
		})
	}

	for i := 0; i < numWorkers; i++ {
		h := scripthost.New(i)
		if err := h.LoadScript(scriptPath); err != nil {
			cancel()
			return err
		}
		defer h.Close()

		wg.Add(1)
		go func(h *scripthost.Host) {
			defer wg.Done()
			for {
				select {
				case t, ok := <-taskCh:
					if !ok {
						return
					}
					if e := scrapOne(ctx, client, h, sink, t); e != nil {
						if errs.Apply(e, onError, func(err error) { logger.Warn().Err(err).Msg("scrap error, continuing") }) {
							fail(e)
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}(h)
	}

	for _, t := range tasks {
		select {
		case taskCh <- t:
		case <-ctx.Done():
		}
	}
	close(taskCh)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return sink.Flush()
}

func scrapOne(ctx context.Context, client *http.Client, h *scripthost.Host, sink *csvsink.Sink, t scrapTask) error {
	body, err := readLocation(ctx, client, t.location)
	if err != nil {
		return err
	}

	doc, err := htmldoc.Parse(body)
	if err != nil {
		return &errs.DownloadError{URL: t.location.Value, Err: err}
	}

	var sinkErr error
	sctx := &scripthost.ScrapingContext{
		Location: t.location,
		WorkerID: h.WorkerID,
		SendRecord: func(fields []string) {
			rec := csvsink.NewRecord()
			for _, f := range fields {
				rec.PushField(f)
			}
			if err := sink.WriteRecord(rec); err != nil && sinkErr == nil {
				sinkErr = err
			}
		},
		SendURL: func(string) {}, // scrap bypasses discovery entirely
	}

	if err := h.ScrapPage(doc, sctx); err != nil {
		return err
	}
	return sinkErr
}

func readLocation(ctx context.Context, client *http.Client, loc scripthost.PageLocation) ([]byte, error) {
	if loc.Kind == scripthost.LocationPath {
		body, err := os.ReadFile(loc.Value)
		if err != nil {
			return nil, &errs.DownloadError{URL: loc.Value, Err: err}
		}
		return body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.Value, nil)
	if err != nil {
		return nil, &errs.DownloadError{URL: loc.Value, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &errs.DownloadError{URL: loc.Value, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.DownloadError{URL: loc.Value, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}
