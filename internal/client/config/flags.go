package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/flagx"
)

// parseFlags populates Config fields from command-line flags. Unknown
// arguments are ignored so other loaders can share the same args.
//
// Supported flags:
//
//	-u string     user id readings are stored under
//	-d string     database file
//	-l string     log level
//	-log string   log file (empty logs to stdout)
//	-s string     sync server URL
//	-t int        disagreement tolerance, mg/dL
//	-gap dur      gap threshold
//	-timeout dur  source fetch timeout
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("balli", flag.ContinueOnError)

	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "database file")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file")
	fs.StringVar(&cfg.SyncURL, "s", cfg.SyncURL, "sync server URL")
	fs.IntVar(&cfg.Tolerance, "t", cfg.Tolerance, "disagreement tolerance in mg/dL")
	fs.DurationVar(&cfg.GapThreshold, "gap", cfg.GapThreshold, "gap threshold")
	fs.DurationVar(&cfg.FetchTimeout, "timeout", cfg.FetchTimeout, "source fetch timeout")

	if err := flagx.ParseKnown(fs, args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
