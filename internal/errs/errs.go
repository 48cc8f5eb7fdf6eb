// Package errs defines the error taxonomy shared by every stage of the
// crawl/scrape pipeline and the skip-and-log/fail policy that governs
// how each stage reacts to a failure.
package errs

import (
	"errors"
	"fmt"
)

// Policy decides whether a stage error is logged and swallowed or
// escalated to the orchestrator.
type Policy int

const (
	// SkipAndLog records the error with its context and continues.
	SkipAndLog Policy = iota
	// Fail escalates the error, cancelling the run.
	Fail
)

func (p Policy) String() string {
	if p == Fail {
		return "fail"
	}
	return "skip-and-log"
}

// ParsePolicy parses the CLI/script spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "skip-and-log":
		return SkipAndLog, nil
	case "fail":
		return Fail, nil
	default:
		return SkipAndLog, fmt.Errorf("unknown error policy %q", s)
	}
}

// ConfigError marks a configuration error: conflicting seeds, both a
// script robot and crawlerConfig.robot set, multiple throttle flags,
// invalid output mode combinations. Always fatal.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// NewConfigError builds a ConfigError.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// DownloadError wraps a network/HTTP failure for one URL.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download error for %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// XmlError wraps a failure to fetch, gunzip or decode one sitemap URL.
type XmlError struct {
	URL string
	Err error
}

func (e *XmlError) Error() string {
	return fmt.Sprintf("xml error for %s: %v", e.URL, e.Err)
}

func (e *XmlError) Unwrap() error { return e.Err }

// ScriptError wraps a script load failure or a runtime failure raised
// while running scrapPage/acceptUrl.
type ScriptError struct {
	Where string // "load", "scrapPage", "acceptUrl"
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script error in %s: %v", e.Where, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// SinkError wraps a CSV write failure or an inconsistent field count.
// Always fatal.
type SinkError struct {
	Msg string
	Err error
}

func (e *SinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sink error: %s: %v", e.Msg, e.Err)
	}
	return "sink error: " + e.Msg
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsFatal reports whether err must always escalate regardless of any
// stage policy (ConfigError and SinkError are always fatal).
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	var sinkErr *SinkError
	return errors.As(err, &cfgErr) || errors.As(err, &sinkErr)
}

// Apply centralizes skip-and-log vs. fail handling for one stage
// error: IsFatal errors always escalate; otherwise the caller's
// policy decides. log is called only when the error is swallowed, so
// callers always see a consistent "did this stop the run" signal from
// the returned bool (true means the run must stop).
func Apply(err error, p Policy, log func(error)) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return true
	}
	if p == Fail {
		return true
	}
	log(err)
	return false
}
