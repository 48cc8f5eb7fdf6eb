package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amosweiskopf/sws/internal/errs"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sws",
	Short: "sws is a programmable web scraper",
	Long: `sws crawls a seed of sitemaps, pages, or a robots.txt entry, runs an
embedded Lua script against each downloaded page, and writes the
records the script emits to a CSV sink.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a defaults config file (YAML/JSON/TOML, per viper)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "disable logging")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(scrapCmd)
}

// exitCode maps a run's terminal error to an exit code: 0 on success,
// 2 for an *errs.ConfigError, 1 for any other error. Argument errors
// raised by cobra itself (unknown flags, a missing required flag) are
// not ConfigErrors and exit with 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *errs.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}
