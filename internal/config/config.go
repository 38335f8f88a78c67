// Package config centralizes the process-wide flags every dfsctl
// subcommand shares: which coordination-store backend to use, where its
// data lives, and the logging level.
package config

import (
	"github.com/spf13/pflag"

	"github.com/clusterdfs/dfscoord/internal/dlog"
)

// Config holds the flags common to every subcommand.
type Config struct {
	StoreBackend string
	StoreRoot    string
	LogLevel     string
}

// Default returns a Config with the module's default settings: an
// in-memory store and info-level logging.
func Default() *Config {
	return &Config{StoreBackend: "mem", StoreRoot: "", LogLevel: "info"}
}

// BindFlags registers c's fields onto fs, following the persistent-flag
// convention of binding straight into a config struct rather than a
// package-level global.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "coordination-store backend (mem, bolt)")
	fs.StringVar(&c.StoreRoot, "store-root", c.StoreRoot, "backend-specific store location (bolt db path)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (panic, fatal, error, warn, info, debug, trace)")
}

// Apply pushes LogLevel into the logging subsystem.
func (c *Config) Apply() error {
	return dlog.SetLevel(c.LogLevel)
}
