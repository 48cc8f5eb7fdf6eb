// Package config implements spec §3's data model (Seed, CrawlerConfig)
// and §4.7's three-tier merge (defaults ≺ script globals ≺ CLI
// overrides). viper resolves which on-disk/env file feeds the
// defaults tier; Merge itself is plain Go layering over already
// parsed tiers, independent of viper.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/amosweiskopf/sws/internal/errs"
)

// SeedKind enumerates the three mutually exclusive seed shapes.
type SeedKind int

const (
	NoSeed SeedKind = iota
	SitemapSeed
	PageSeed
	RobotsSeed
)

// Seed is a tagged union of exactly one of sitemap URLs, page URLs, or
// a robots.txt URL.
type Seed struct {
	Kind      SeedKind
	Sitemaps  []string
	Pages     []string
	RobotsURL string
}

// Validate enforces spec §3's Seed invariant: specifying more than one
// kind is a configuration error.
func (s Seed) Validate() error {
	count := 0
	if len(s.Sitemaps) > 0 {
		count++
	}
	if len(s.Pages) > 0 {
		count++
	}
	if s.RobotsURL != "" {
		count++
	}
	if count > 1 {
		return errs.NewConfigError("seed must specify exactly one of sitemaps, pages, or robots.txt, got %d", count)
	}
	if count == 0 {
		return errs.NewConfigError("seed must specify one of sitemaps, pages, or robots.txt")
	}
	return nil
}

// ThrottleKind selects one of the three Throttler strategies.
type ThrottleKind int

const (
	NoThrottle ThrottleKind = iota
	ConcurrentThrottle
	PerSecondThrottle
	DelayThrottle
)

// ThrottleConfig is the merged, resolved throttle selection. Exactly
// one of N (Concurrent/PerSecond) or Delay is meaningful, per Kind.
type ThrottleConfig struct {
	Kind  ThrottleKind
	N     int
	Delay time.Duration
}

// CrawlerConfig is spec §3's CrawlerConfig, fully resolved after Merge.
type CrawlerConfig struct {
	UserAgent    string
	PageBuffer   int
	Throttle     ThrottleConfig
	NumWorkers   int
	OnDlError    errs.Policy
	OnXmlError   errs.Policy
	OnScrapError errs.Policy
	RobotURL     string // optional; "" means unset
}

// Validate enforces spec §3's "if seed is robots.txt, robot must be
// unset" invariant and basic positivity constraints.
func (c CrawlerConfig) Validate(seed Seed) error {
	if seed.Kind == RobotsSeed && c.RobotURL != "" {
		return errs.NewConfigError("crawlerConfig.robot must be unset when seed is a robots.txt URL")
	}
	if c.PageBuffer <= 0 {
		return errs.NewConfigError("page_buffer must be a positive integer, got %d", c.PageBuffer)
	}
	if c.NumWorkers <= 0 {
		return errs.NewConfigError("num_workers must be a positive integer, got %d", c.NumWorkers)
	}
	if c.Throttle.Kind == NoThrottle {
		return errs.NewConfigError("throttle must be one of Concurrent, PerSecond, or Delay")
	}
	return nil
}

// CsvWriterConfig mirrors csvsink.Config at the config-merge layer so
// script globals and CLI flags can populate it before csvsink ever
// sees a concrete Config.
type CsvWriterConfig struct {
	Delimiter  rune
	Escape     rune
	HasEscape  bool
	Flexible   bool
	CRLF       bool
	Terminator rune
}

// PartialCrawlerConfig is one merge tier: every field is a pointer (or
// explicit nil for enums) so only fields the tier actually sets
// participate in the override.
type PartialCrawlerConfig struct {
	UserAgent    *string
	PageBuffer   *int
	Throttle     *ThrottleConfig
	NumWorkers   *int
	OnDlError    *errs.Policy
	OnXmlError   *errs.Policy
	OnScrapError *errs.Policy
	RobotURL     *string
}

// Defaults returns the built-in fallback tier, consulted only for
// fields no later tier sets.
func Defaults() CrawlerConfig {
	return CrawlerConfig{
		UserAgent:    "sws/1.0",
		PageBuffer:   64,
		Throttle:     ThrottleConfig{Kind: ConcurrentThrottle, N: 100},
		NumWorkers:   4,
		OnDlError:    errs.SkipAndLog,
		OnXmlError:   errs.SkipAndLog,
		OnScrapError: errs.SkipAndLog,
	}
}

// Merge layers defaults ≺ script ≺ cli, per spec §4.7. Each tier only
// overrides fields it actually set.
func Merge(defaults CrawlerConfig, script, cli PartialCrawlerConfig) CrawlerConfig {
	cfg := defaults
	for _, tier := range []PartialCrawlerConfig{script, cli} {
		if tier.UserAgent != nil {
			cfg.UserAgent = *tier.UserAgent
		}
		if tier.PageBuffer != nil {
			cfg.PageBuffer = *tier.PageBuffer
		}
		if tier.Throttle != nil {
			cfg.Throttle = *tier.Throttle
		}
		if tier.NumWorkers != nil {
			cfg.NumWorkers = *tier.NumWorkers
		}
		if tier.OnDlError != nil {
			cfg.OnDlError = *tier.OnDlError
		}
		if tier.OnXmlError != nil {
			cfg.OnXmlError = *tier.OnXmlError
		}
		if tier.OnScrapError != nil {
			cfg.OnScrapError = *tier.OnScrapError
		}
		if tier.RobotURL != nil {
			cfg.RobotURL = *tier.RobotURL
		}
	}
	return cfg
}

// ApplyRobotDefaultDelay implements spec §4.5's defaulting rule: when
// no explicit throttle override was given by script or CLI and the
// Robot publishes a crawl-delay, default to Delay(hint) instead of the
// built-in Concurrent(100).
func ApplyRobotDefaultDelay(cfg CrawlerConfig, script, cli PartialCrawlerConfig, hint time.Duration) CrawlerConfig {
	if script.Throttle != nil || cli.Throttle != nil {
		return cfg
	}
	cfg.Throttle = ThrottleConfig{Kind: DelayThrottle, Delay: hint}
	return cfg
}

// LoadDefaultsFile resolves the on-disk/env "defaults" tier via viper,
// bound to environment variables under the SWS_ prefix. configPath may
// be empty, in which case only env vars and viper's built-in defaults
// apply.
func LoadDefaultsFile(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SWS")
	v.AutomaticEnv()

	v.SetDefault("user_agent", "sws/1.0")
	v.SetDefault("page_buffer", 64)
	v.SetDefault("num_workers", 4)
	v.SetDefault("on_dl_error", "skip-and-log")
	v.SetDefault("on_xml_error", "skip-and-log")
	v.SetDefault("on_scrap_error", "skip-and-log")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.NewConfigError("read config file %q: %v", configPath, err)
		}
	}
	return v, nil
}
