// Copyright (c) 2025 The FileZap developers

package config

import (
	"fmt"
	"net"
	"time"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

// DefaultServerConfigFile is read when --configfile is not given.
const DefaultServerConfigFile = "Server.toml"

const defaultAnnounceInterval = time.Second

type serverOptions struct {
	commonOptions
	Port int `short:"p" long:"port" description:"TCP and UDP port to listen on"`
}

// serverFile is the layout of Server.toml.
type serverFile struct {
	LogLevel         string   `toml:"log_level"`
	TunIP            string   `toml:"tun_ip"`
	TunPrefix        int      `toml:"tun_prefix"`
	Network          string   `toml:"network"`
	OutInterface     string   `toml:"out_interface"`
	AnnounceInterval Duration `toml:"announce_interval"`
	IdentityName     string   `toml:"identity_name"`
	AppName          string   `toml:"app_name"`
	ClearOnClose     bool     `toml:"clear_on_close"`
	Port             int      `toml:"port"`
}

// ServerConfig is the validated server configuration.
type ServerConfig struct {
	LogLevel    string
	LogDir      string
	StatusAddr  string
	ShowVersion bool

	TunIP        net.IP
	TunPrefix    int
	Network      *net.IPNet
	OutInterface string

	AnnounceInterval time.Duration
	ClearOnClose     bool
	ListenAddrs      []string
	IdentityName     string
	AppName          string
}

// LoadServerConfig parses args and the server TOML file.
func LoadServerConfig(args []string) (*ServerConfig, error) {
	opts := serverOptions{commonOptions: commonOptions{ConfigFile: DefaultServerConfigFile}}
	if err := parseArgs(&opts, args); err != nil {
		return nil, err
	}
	if opts.ShowVersion {
		return &ServerConfig{ShowVersion: true}, nil
	}

	file := serverFile{
		TunIP:            "10.88.0.1",
		TunPrefix:        defaultPrefix,
		Network:          "10.88.0.0/24",
		AnnounceInterval: Duration{defaultAnnounceInterval},
		IdentityName:     "meshtun-server",
		AppName:          defaultAppName,
		Port:             mesh.DefaultPort,
	}
	explicit := opts.ConfigFile != DefaultServerConfigFile
	if err := decodeFile(opts.ConfigFile, explicit, &file); err != nil {
		return nil, err
	}

	return newServerConfig(opts, file)
}

func newServerConfig(opts serverOptions, file serverFile) (*ServerConfig, error) {
	cfg := &ServerConfig{
		LogLevel:         firstNonEmpty(opts.LogLevel, file.LogLevel, defaultLogLevel),
		LogDir:           opts.LogDir,
		StatusAddr:       opts.Status,
		TunPrefix:        file.TunPrefix,
		OutInterface:     file.OutInterface,
		AnnounceInterval: file.AnnounceInterval.Duration,
		ClearOnClose:     file.ClearOnClose,
		ListenAddrs:      opts.Listen,
		IdentityName:     file.IdentityName,
		AppName:          file.AppName,
	}

	ip, err := parseTunAddress(file.TunIP, file.TunPrefix)
	if err != nil {
		return nil, err
	}
	cfg.TunIP = ip

	cfg.Network, err = parseCIDR("network", file.Network)
	if err != nil {
		return nil, err
	}

	if cfg.AnnounceInterval <= 0 {
		return nil, fmt.Errorf("%w: announce_interval must be positive", ErrInvalidConfig)
	}

	port := file.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, port)
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = mesh.ListenAddrsForPort(port)
	}

	if cfg.IdentityName == "" || cfg.AppName == "" {
		return nil, fmt.Errorf("%w: identity_name and app_name must not be empty", ErrInvalidConfig)
	}
	return cfg, nil
}
