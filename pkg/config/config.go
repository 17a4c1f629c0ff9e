// Copyright (c) 2025 The FileZap developers

// Package config loads daemon configuration from the command line and the
// role's TOML file. Command line options override file values.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel = "info"
	defaultAppName  = "meshtun"
	defaultPrefix   = 24
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// commonOptions are the command line options shared by both daemons.
type commonOptions struct {
	ConfigFile  string   `short:"C" long:"configfile" description:"Path to TOML configuration file"`
	LogLevel    string   `long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} or SUBSYS=level pairs"`
	LogDir      string   `long:"logdir" description:"Directory to log output"`
	Listen      []string `long:"listen" description:"Add a multiaddr to listen on"`
	Status      string   `long:"status" description:"Serve status and metrics over HTTP on this address"`
	ShowVersion bool     `short:"V" long:"version" description:"Display version information and exit"`
}

// Duration is a time.Duration read from a TOML string such as "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// parseArgs parses args into opts. Help requests are returned as the
// *flags.Error go-flags produces.
func parseArgs(opts interface{}, args []string) error {
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	return nil
}

// IsHelp reports whether err is a help request from the flag parser.
func IsHelp(err error) bool {
	var e *flags.Error
	return errors.As(err, &e) && e.Type == flags.ErrHelp
}

// decodeFile reads path into v. A missing file is only an error when it
// was named explicitly; unknown keys are always an error.
func decodeFile(path string, explicit bool, v interface{}) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.DecodeFile(path, v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: %s: unknown keys %v", ErrInvalidConfig, path, undecoded)
	}
	return nil
}

func parseTunAddress(ip string, prefix int) (net.IP, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return nil, fmt.Errorf("%w: tun_ip %q is not an IPv4 address", ErrInvalidConfig, ip)
	}
	if prefix < 0 || prefix > 32 {
		return nil, fmt.Errorf("%w: tun_prefix %d out of range", ErrInvalidConfig, prefix)
	}
	return parsed, nil
}

func parseCIDR(key, s string) (*net.IPNet, error) {
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, key, s, err)
	}
	return network, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
