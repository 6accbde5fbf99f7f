package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmdmdm-nz/netstatusd/pkg/version"
)

// Config holds the application configuration from CLI flags
type Config struct {
	Port             int
	Host             string
	LogLevel         string
	Backend          string
	PollInterval     time.Duration
	Settle           time.Duration
	PermissionsFile  string
	Grant            string
	MinBridgeVersion string
	Announce         bool
	ShowVersion      bool
}

// errInvalidValue marks values that parse but fail validation. flag prints
// its own parse errors; these are reported by ParseFlags.
var errInvalidValue = errors.New("invalid value")

// ParseFlags parses command line arguments and returns a Config
func ParseFlags() *Config {
	cfg, err := ParseArgs(os.Args[1:])
	if err != nil {
		os.Exit(reportParseError(os.Stderr, err))
	}

	if cfg.ShowVersion {
		fmt.Printf("netstatusd version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
		os.Exit(0)
	}

	return cfg
}

// ParseArgs parses args into a Config without touching the global flag set.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("netstatusd", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", 60106, "Port to listen on")
	fs.StringVar(&cfg.Host, "host", "127.0.0.1", "Host to bind to")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Backend, "backend", "auto", "Connectivity backend (auto, networkmanager, netlink, route, poll)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "Interval between checks for the poll backend")
	fs.DurationVar(&cfg.Settle, "settle", 250*time.Millisecond, "Time to let a burst of OS network events settle before reporting")
	fs.StringVar(&cfg.PermissionsFile, "permissions-file", "", "Plist file with capability grants, re-read on every check")
	fs.StringVar(&cfg.Grant, "grant", "ACCESS_NETWORK_STATE,CHANGE_NETWORK_STATE", "Comma separated capabilities granted when no permissions file is used")
	fs.StringVar(&cfg.MinBridgeVersion, "min-bridge-version", "", "Reject web containers whose bridge version is older than this")
	fs.BoolVar(&cfg.Announce, "announce", false, "Announce the service over mDNS")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll-interval must be positive, got %s", errInvalidValue, cfg.PollInterval)
	}
	if cfg.Settle < 0 {
		return nil, fmt.Errorf("%w: settle must not be negative, got %s", errInvalidValue, cfg.Settle)
	}
	return cfg, nil
}

// reportParseError prints validation errors to w and returns the exit code.
// -help exits successfully.
func reportParseError(w io.Writer, err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errInvalidValue):
		fmt.Fprintf(w, "netstatusd: %v\n", err)
	}
	return 2
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Host: %s, Port: %d, LogLevel: %s, Backend: %s, PollInterval: %s, PermissionsFile: %q, Grant: %q, MinBridgeVersion: %q, Announce: %t",
		c.Host, c.Port, c.LogLevel, c.Backend, c.PollInterval, c.PermissionsFile, c.Grant, c.MinBridgeVersion, c.Announce)
}
