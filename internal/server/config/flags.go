package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/flagx"
)

// parseFlags populates Config fields from command-line flags. Unknown
// arguments such as -issue are left for the caller.
//
// Supported flags:
//
//	-a string     listen address
//	-d string     PostgreSQL DSN
//	-k string     token signing secret
//	-ttl dur      validity of issued tokens
//	-l string     log level
//	-log string   log file
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("syncserver", flag.ContinueOnError)

	fs.StringVar(&cfg.ListenAddr, "a", cfg.ListenAddr, "listen address")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "token signing secret")
	fs.DurationVar(&cfg.TokenValidity, "ttl", cfg.TokenValidity, "issued token validity")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file")

	if err := flagx.ParseKnown(fs, args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
