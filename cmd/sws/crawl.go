package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/amosweiskopf/sws/internal/config"
	"github.com/amosweiskopf/sws/internal/crawler"
	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/robot"
	"github.com/amosweiskopf/sws/internal/scripthost"
	"github.com/amosweiskopf/sws/internal/throttle"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "crawl a seed of sitemaps, pages, or a robots.txt entry",
	Args:  cobra.NoArgs,
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().String("script", "", "path to the Lua script (required)")
	crawlCmd.Flags().StringP("output", "o", "", "output CSV path (default: stdout)")
	crawlCmd.Flags().Bool("append", false, "append to an existing output file")
	crawlCmd.Flags().Bool("truncate", false, "overwrite an existing output file")
	crawlCmd.Flags().String("user-agent", "", "override crawlerConfig.userAgent")
	crawlCmd.Flags().Int("page-buffer", 0, "override crawlerConfig.pageBuffer")
	crawlCmd.Flags().Int("conc-dl", 0, "throttle: at most N concurrent downloads")
	crawlCmd.Flags().Int("rps", 0, "throttle: at most N download starts per second")
	crawlCmd.Flags().Float64("delay", 0, "throttle: seconds between download starts")
	crawlCmd.Flags().Int("num-workers", 0, "override crawlerConfig.numWorkers")
	crawlCmd.Flags().String("on-dl-error", "skip-and-log", "skip-and-log|fail")
	crawlCmd.Flags().String("on-xml-error", "skip-and-log", "skip-and-log|fail")
	crawlCmd.Flags().String("on-scrap-error", "skip-and-log", "skip-and-log|fail")
	crawlCmd.Flags().String("robot", "", "robots.txt URL to fetch and enforce")
	_ = crawlCmd.MarkFlagRequired("script")
}

// partialFromViper reads the scalar keys config.LoadDefaultsFile
// defaults, forming the on-disk/env tier that sits between the
// built-in defaults and the script's own crawlerConfig globals.
func partialFromViper(v *viper.Viper) (config.PartialCrawlerConfig, error) {
	var p config.PartialCrawlerConfig

	if v.IsSet("user_agent") {
		s := v.GetString("user_agent")
		p.UserAgent = &s
	}
	if v.IsSet("page_buffer") {
		n := v.GetInt("page_buffer")
		p.PageBuffer = &n
	}
	if v.IsSet("num_workers") {
		n := v.GetInt("num_workers")
		p.NumWorkers = &n
	}
	if v.IsSet("robot") {
		s := v.GetString("robot")
		p.RobotURL = &s
	}
	for _, f := range []struct {
		key  string
		dest **errs.Policy
	}{
		{"on_dl_error", &p.OnDlError},
		{"on_xml_error", &p.OnXmlError},
		{"on_scrap_error", &p.OnScrapError},
	} {
		if !v.IsSet(f.key) {
			continue
		}
		pol, err := errs.ParsePolicy(v.GetString(f.key))
		if err != nil {
			return p, errs.NewConfigError("%s: %v", f.key, err)
		}
		*f.dest = &pol
	}
	return p, nil
}

func cliPartialFromFlags(cmd *cobra.Command) (config.PartialCrawlerConfig, error) {
	var p config.PartialCrawlerConfig
	p.UserAgent = stringOverride(cmd, "user-agent")
	p.PageBuffer = intOverride(cmd, "page-buffer")
	p.NumWorkers = intOverride(cmd, "num-workers")
	p.RobotURL = stringOverride(cmd, "robot")

	thr, err := throttleOverride(cmd)
	if err != nil {
		return p, err
	}
	p.Throttle = thr

	for name, dest := range map[string]**errs.Policy{
		"on-dl-error":    &p.OnDlError,
		"on-xml-error":   &p.OnXmlError,
		"on-scrap-error": &p.OnScrapError,
	} {
		pol, err := policyFlag(cmd, name)
		if err != nil {
			return p, err
		}
		*dest = pol
	}
	return p, nil
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     30 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: 15 * time.Second}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	logger := newLogger(quiet)

	scriptPath, _ := cmd.Flags().GetString("script")

	outPath, mode, err := outputMode(cmd)
	if err != nil {
		return err
	}

	control := scripthost.New(-1)
	defer control.Close()
	if err := control.LoadScript(scriptPath); err != nil {
		return err
	}

	seed, err := control.HarvestSeed()
	if err != nil {
		return err
	}
	scriptPartial, err := control.HarvestCrawlerConfig()
	if err != nil {
		return err
	}
	csvCfg, hasCsvCfg, err := control.HarvestCsvWriterConfig()
	if err != nil {
		return err
	}
	if !hasCsvCfg {
		csvCfg = csvsink.DefaultConfig()
	}

	cliPartial, err := cliPartialFromFlags(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	v, err := config.LoadDefaultsFile(configPath)
	if err != nil {
		return err
	}
	fileTier, err := partialFromViper(v)
	if err != nil {
		return err
	}

	base := config.Merge(config.Defaults(), fileTier, config.PartialCrawlerConfig{})
	merged := config.Merge(base, scriptPartial, cliPartial)

	if err := merged.Validate(seed); err != nil {
		return err
	}

	client := newHTTPClient()

	// Resolving the robot here, before the Throttler is built, lets the
	// crawl-delay default (spec §4.5) apply whether the robot came from
	// a robots.txt seed or an explicit --robot/script override.
	var rbt *robot.Robot
	switch {
	case seed.Kind == config.RobotsSeed:
		rbt, err = robot.Fetch(client, seed.RobotsURL, merged.UserAgent)
		if err != nil {
			return &errs.DownloadError{URL: seed.RobotsURL, Err: err}
		}
		seed = config.Seed{Kind: config.SitemapSeed, Sitemaps: rbt.Sitemaps()}
	case merged.RobotURL != "":
		rbt, err = robot.Fetch(client, merged.RobotURL, merged.UserAgent)
		if err != nil {
			return &errs.DownloadError{URL: merged.RobotURL, Err: err}
		}
	}
	if rbt != nil {
		if hint, ok := rbt.CrawlDelay(); ok {
			merged = config.ApplyRobotDefaultDelay(merged, scriptPartial, cliPartial, hint)
		}
	}

	sink, err := csvsink.Open(outPath, mode, csvCfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	throttler, err := buildThrottler(merged.Throttle)
	if err != nil {
		return err
	}

	workers := make([]*scripthost.Host, merged.NumWorkers)
	for i := range workers {
		h := scripthost.New(i)
		if err := h.LoadScript(scriptPath); err != nil {
			return err
		}
		defer h.Close()
		workers[i] = h
	}

	o := crawler.New(crawler.Options{
		Config:      merged,
		Seed:        seed,
		Robot:       rbt,
		Client:      client,
		Sink:        sink,
		Throttler:   throttler,
		ControlHost: control,
		Workers:     workers,
		Logger:      logger,
	})

	return o.Run(context.Background())
}

func buildThrottler(t config.ThrottleConfig) (throttle.Throttler, error) {
	switch t.Kind {
	case config.ConcurrentThrottle:
		return throttle.Concurrent(t.N), nil
	case config.PerSecondThrottle:
		return throttle.PerSecond(t.N), nil
	case config.DelayThrottle:
		return throttle.Delay(t.Delay), nil
	default:
		return nil, errs.NewConfigError("no throttle strategy resolved")
	}
}
