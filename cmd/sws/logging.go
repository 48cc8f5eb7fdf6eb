package main

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// newLogger builds the run's logger: a human-readable console writer
// on an interactive stderr, structured JSON otherwise, tagged with a
// per-run id so concurrent worker log lines can be correlated back to
// one invocation.
func newLogger(quiet bool) zerolog.Logger {
	if quiet {
		return zerolog.Nop()
	}

	var w zerolog.ConsoleWriter
	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.With().Timestamp().Str("run_id", uuid.NewString()).Logger()
}
