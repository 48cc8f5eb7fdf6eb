package scripthost

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/amosweiskopf/sws/internal/config"
	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
)

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// HarvestSeed reads seedSitemaps/seedPages/seedRobotsTxt off the
// script's globals, per spec §4.3 step 3 (performed once, by the
// first worker or a dedicated init pass).
func (h *Host) HarvestSeed() (config.Seed, error) {
	var seed config.Seed

	if sitemaps := h.stringList("seedSitemaps"); len(sitemaps) > 0 {
		seed.Kind = config.SitemapSeed
		seed.Sitemaps = sitemaps
	}
	if pages := h.stringList("seedPages"); len(pages) > 0 {
		if seed.Kind != config.NoSeed {
			return seed, errs.NewConfigError("script may only set one of seedSitemaps, seedPages, seedRobotsTxt")
		}
		seed.Kind = config.PageSeed
		seed.Pages = pages
	}
	if robotsURL, ok := h.L.GetGlobal("seedRobotsTxt").(lua.LString); ok && string(robotsURL) != "" {
		if seed.Kind != config.NoSeed {
			return seed, errs.NewConfigError("script may only set one of seedSitemaps, seedPages, seedRobotsTxt")
		}
		seed.Kind = config.RobotsSeed
		seed.RobotsURL = string(robotsURL)
	}

	if err := seed.Validate(); err != nil {
		return seed, err
	}
	return seed, nil
}

func (h *Host) stringList(global string) []string {
	tbl, ok := h.L.GetGlobal(global).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	tbl.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			out = append(out, string(s))
		}
	})
	return out
}

// HarvestCrawlerConfig reads the crawlerConfig global table into a
// PartialCrawlerConfig for internal/config.Merge's script tier. Fields
// the script doesn't set stay nil so Merge falls through to defaults.
func (h *Host) HarvestCrawlerConfig() (config.PartialCrawlerConfig, error) {
	var p config.PartialCrawlerConfig

	tbl, ok := h.L.GetGlobal("crawlerConfig").(*lua.LTable)
	if !ok {
		return p, nil
	}

	if s, ok := tbl.RawGetString("userAgent").(lua.LString); ok {
		v := string(s)
		p.UserAgent = &v
	}
	if n, ok := tbl.RawGetString("pageBuffer").(lua.LNumber); ok {
		v := int(n)
		p.PageBuffer = &v
	}
	if n, ok := tbl.RawGetString("numWorkers").(lua.LNumber); ok {
		v := int(n)
		p.NumWorkers = &v
	}
	if s, ok := tbl.RawGetString("robot").(lua.LString); ok {
		v := string(s)
		p.RobotURL = &v
	}

	if throttleTbl, ok := tbl.RawGetString("throttle").(*lua.LTable); ok {
		throttle, err := parseThrottleTable(throttleTbl)
		if err != nil {
			return p, err
		}
		p.Throttle = &throttle
	}

	if pol, err := parsePolicyField(tbl, "onDlError"); err != nil {
		return p, err
	} else if pol != nil {
		p.OnDlError = pol
	}
	if pol, err := parsePolicyField(tbl, "onXmlError"); err != nil {
		return p, err
	} else if pol != nil {
		p.OnXmlError = pol
	}
	if pol, err := parsePolicyField(tbl, "onScrapError"); err != nil {
		return p, err
	} else if pol != nil {
		p.OnScrapError = pol
	}

	return p, nil
}

func parsePolicyField(tbl *lua.LTable, field string) (*errs.Policy, error) {
	s, ok := tbl.RawGetString(field).(lua.LString)
	if !ok {
		return nil, nil
	}
	pol, err := errs.ParsePolicy(string(s))
	if err != nil {
		return nil, errs.NewConfigError("crawlerConfig.%s: %v", field, err)
	}
	return &pol, nil
}

func parseThrottleTable(tbl *lua.LTable) (config.ThrottleConfig, error) {
	if n, ok := tbl.RawGetString("Concurrent").(lua.LNumber); ok {
		return config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: int(n)}, nil
	}
	if n, ok := tbl.RawGetString("PerSecond").(lua.LNumber); ok {
		return config.ThrottleConfig{Kind: config.PerSecondThrottle, N: int(n)}, nil
	}
	if n, ok := tbl.RawGetString("Delay").(lua.LNumber); ok {
		return config.ThrottleConfig{Kind: config.DelayThrottle, Delay: secondsToDuration(float64(n))}, nil
	}
	return config.ThrottleConfig{}, errs.NewConfigError("crawlerConfig.throttle must set one of Concurrent, PerSecond, or Delay")
}

// HarvestCsvWriterConfig reads the optional csvWriterConfig global
// into a csvsink.Config. The second return is false when the script
// didn't set the global at all, signalling the caller to fall back to
// csvsink.DefaultConfig().
func (h *Host) HarvestCsvWriterConfig() (csvsink.Config, bool, error) {
	tbl, ok := h.L.GetGlobal("csvWriterConfig").(*lua.LTable)
	if !ok {
		return csvsink.Config{}, false, nil
	}

	cfg := csvsink.DefaultConfig()

	if s, ok := tbl.RawGetString("delimiter").(lua.LString); ok && len(s) > 0 {
		cfg.Delimiter = []rune(string(s))[0]
	}
	if s, ok := tbl.RawGetString("escape").(lua.LString); ok && len(s) > 0 {
		cfg.Escape = []rune(string(s))[0]
		cfg.HasEscape = true
	}
	if b, ok := tbl.RawGetString("flexible").(lua.LBool); ok {
		cfg.Flexible = bool(b)
	}

	switch term := tbl.RawGetString("terminator").(type) {
	case lua.LString:
		if string(term) == "CRLF" {
			cfg.Terminator = csvsink.CRLFTerminator()
		}
	case *lua.LTable:
		if s, ok := term.RawGetString("Any").(lua.LString); ok && len(s) > 0 {
			cfg.Terminator = csvsink.AnyTerminator([]rune(string(s))[0])
		}
	}

	return cfg, true, nil
}
