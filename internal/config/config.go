// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/logger"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	Server    Server        `group:"Server Options" env-namespace:"HOL"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"HOL_DB"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"HOL_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"HOL_RATE_LIMIT"`
	Query     Query         `group:"Query Options" namespace:"query" env-namespace:"HOL_QUERY"`
	Scheduler Scheduler     `group:"Scheduler Options" namespace:"scheduler" env-namespace:"HOL_SCHEDULER"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"HOL_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	Address    string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken  string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token"`
	TrustProxy bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// Storage holds database configuration.
type Storage struct {
	Path string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"hol.db"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"hol.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
	Disabled bool          `long:"disabled" env:"DISABLED" description:"Disable GeoIP enrichment of claim attempts"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	Count     int           `long:"count" env:"COUNT" description:"Per-IP limit: requests count" default:"30"`
	Window    time.Duration `long:"window" env:"WINDOW" description:"Per-IP limit: window duration" default:"1m"`
	SoftProbe time.Duration `long:"soft-probe" env:"SOFT_PROBE" description:"Reuse a fresh probe result instead of re-querying within this window" default:"30s"`
}

// Query holds probe engine configuration.
type Query struct {
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-protocol probe timeout" default:"3s"`
}

// Scheduler holds background job cadences.
type Scheduler struct {
	StatusInterval time.Duration `long:"status-interval" env:"STATUS_INTERVAL" description:"Status batch interval" default:"1m"`
	BatchSize      int           `long:"batch-size" env:"BATCH_SIZE" description:"Servers probed per batch" default:"50"`
	Workers        int           `long:"workers" env:"WORKERS" description:"Concurrent probe workers" default:"10"`
	Disabled       bool          `long:"disabled" env:"DISABLED" description:"Disable background jobs (serve-only mode)"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if cfg.Server.AuthToken == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `-t, --auth-token' or environment variable `HOL_AUTH_TOKEN` was not specified!")
		os.Exit(1)
	}

	return &cfg
}
