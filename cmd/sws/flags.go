package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/amosweiskopf/sws/internal/config"
	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/errs"
)

// outputMode resolves the -o/--append/--truncate flag trio into a
// csvsink.OutputMode and the destination path ("" or "-" means stdout).
func outputMode(cmd *cobra.Command) (string, csvsink.OutputMode, error) {
	path, _ := cmd.Flags().GetString("output")
	appendFlag, _ := cmd.Flags().GetBool("append")
	truncateFlag, _ := cmd.Flags().GetBool("truncate")

	if appendFlag && truncateFlag {
		return "", 0, errs.NewConfigError("--append and --truncate are mutually exclusive")
	}
	switch {
	case appendFlag:
		return path, csvsink.Append, nil
	case truncateFlag:
		return path, csvsink.Truncate, nil
	default:
		return path, csvsink.CreateNew, nil
	}
}

// throttleOverride builds a PartialCrawlerConfig.Throttle from the
// crawl command's three mutually exclusive throttle flags. Returns nil
// when the user set none, leaving the choice to the script/default
// tiers.
func throttleOverride(cmd *cobra.Command) (*config.ThrottleConfig, error) {
	concDl, _ := cmd.Flags().GetInt("conc-dl")
	rps, _ := cmd.Flags().GetInt("rps")
	delaySecs, _ := cmd.Flags().GetFloat64("delay")

	set := 0
	if cmd.Flags().Changed("conc-dl") {
		set++
	}
	if cmd.Flags().Changed("rps") {
		set++
	}
	if cmd.Flags().Changed("delay") {
		set++
	}
	if set > 1 {
		return nil, errs.NewConfigError("only one of --conc-dl, --rps, --delay may be set")
	}

	switch {
	case cmd.Flags().Changed("conc-dl"):
		return &config.ThrottleConfig{Kind: config.ConcurrentThrottle, N: concDl}, nil
	case cmd.Flags().Changed("rps"):
		return &config.ThrottleConfig{Kind: config.PerSecondThrottle, N: rps}, nil
	case cmd.Flags().Changed("delay"):
		return &config.ThrottleConfig{Kind: config.DelayThrottle, Delay: time.Duration(delaySecs * float64(time.Second))}, nil
	default:
		return nil, nil
	}
}

// policyFlag reads an error-policy flag, returning nil when the user
// never set it.
func policyFlag(cmd *cobra.Command, name string) (*errs.Policy, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	s, _ := cmd.Flags().GetString(name)
	pol, err := errs.ParsePolicy(s)
	if err != nil {
		return nil, errs.NewConfigError("--%s: %v", name, err)
	}
	return &pol, nil
}

// stringOverride is a small helper turning a "did the user set this
// flag" check plus its value into a *string for PartialCrawlerConfig.
func stringOverride(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func intOverride(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}
