// Copyright (c) 2025 The FileZap developers

package config

import (
	"fmt"
	"net"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

// DefaultClientConfigFile is read when --configfile is not given.
const DefaultClientConfigFile = "Client.toml"

const defaultClientRoute = "104.16.184.241/32"

type clientOptions struct {
	commonOptions
	Server            []string `short:"s" long:"server" description:"Server node multiaddr including /p2p/<peer id>"`
	ServerFingerprint string   `long:"serverfingerprint" description:"Hex fingerprint of the server destination"`
}

// clientFile is the layout of Client.toml.
type clientFile struct {
	LogLevel          string   `toml:"log_level"`
	TunIP             string   `toml:"tun_ip"`
	TunPrefix         int      `toml:"tun_prefix"`
	ServerFingerprint string   `toml:"server_fingerprint"`
	Routes            []string `toml:"routes"`
	Servers           []string `toml:"servers"`
	IdentityName      string   `toml:"identity_name"`
	AppName           string   `toml:"app_name"`
}

// ClientConfig is the validated client configuration.
type ClientConfig struct {
	LogLevel    string
	LogDir      string
	StatusAddr  string
	ShowVersion bool

	TunIP     net.IP
	TunPrefix int
	Routes    []*net.IPNet

	ServerFingerprint mesh.Fingerprint
	Servers           []string
	ListenAddrs       []string
	IdentityName      string
	AppName           string
}

// LoadClientConfig parses args and the client TOML file.
func LoadClientConfig(args []string) (*ClientConfig, error) {
	opts := clientOptions{commonOptions: commonOptions{ConfigFile: DefaultClientConfigFile}}
	if err := parseArgs(&opts, args); err != nil {
		return nil, err
	}
	if opts.ShowVersion {
		return &ClientConfig{ShowVersion: true}, nil
	}

	file := clientFile{
		TunIP:        "10.0.0.2",
		TunPrefix:    defaultPrefix,
		Routes:       []string{defaultClientRoute},
		IdentityName: "meshtun-client",
		AppName:      defaultAppName,
	}
	explicit := opts.ConfigFile != DefaultClientConfigFile
	if err := decodeFile(opts.ConfigFile, explicit, &file); err != nil {
		return nil, err
	}

	return newClientConfig(opts, file)
}

func newClientConfig(opts clientOptions, file clientFile) (*ClientConfig, error) {
	cfg := &ClientConfig{
		LogLevel:     firstNonEmpty(opts.LogLevel, file.LogLevel, defaultLogLevel),
		LogDir:       opts.LogDir,
		StatusAddr:   opts.Status,
		TunPrefix:    file.TunPrefix,
		ListenAddrs:  opts.Listen,
		IdentityName: file.IdentityName,
		AppName:      file.AppName,
	}

	ip, err := parseTunAddress(file.TunIP, file.TunPrefix)
	if err != nil {
		return nil, err
	}
	cfg.TunIP = ip

	for _, r := range file.Routes {
		route, err := parseCIDR("route", r)
		if err != nil {
			return nil, err
		}
		cfg.Routes = append(cfg.Routes, route)
	}

	fingerprint := firstNonEmpty(opts.ServerFingerprint, file.ServerFingerprint)
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: server_fingerprint is required", ErrInvalidConfig)
	}
	cfg.ServerFingerprint, err = mesh.ParseFingerprint(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: server_fingerprint: %w", ErrInvalidConfig, err)
	}

	cfg.Servers = opts.Server
	if len(cfg.Servers) == 0 {
		cfg.Servers = file.Servers
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%w: at least one server address (-s) is required", ErrInvalidConfig)
	}
	if _, err := mesh.ParseBootstrapAddrs(cfg.Servers); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if cfg.IdentityName == "" || cfg.AppName == "" {
		return nil, fmt.Errorf("%w: identity_name and app_name must not be empty", ErrInvalidConfig)
	}
	return cfg, nil
}
